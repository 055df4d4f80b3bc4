package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/bryan-buckman/ainews/internal/server"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled fetches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.build()
			if err != nil {
				return err
			}
			defer c.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			var poller *orchestrator.Poller
			if a.cfg.Run.Schedule != "" && !noSchedule {
				poller, err = orchestrator.NewPoller(a.cfg.Run.Schedule, c.pipeline, a.log)
				if err != nil {
					return err
				}
			}

			srv := server.New(server.Deps{
				Runner:       c.pipeline,
				Store:        c.store,
				RunLog:       c.runLog,
				RegistryPath: a.cfg.SourcesFile(),
				LockTimeout:  a.cfg.Run.LockTimeout,
				Metrics:      c.metrics,
				Poller:       poller,
				Logger:       a.log,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("Shutting down", logger.String("addr", addr))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "disable scheduled fetches")
	return cmd
}

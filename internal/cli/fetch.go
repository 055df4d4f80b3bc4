package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		force   bool
		sources []string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch due sources and store today's articles",
		Long: `Fetch every enabled source whose interval has elapsed, then normalize,
deduplicate and merge the results into today's article file.

Examples:
  ainews fetch                       # Fetch due sources
  ainews fetch --force               # Ignore fetch intervals
  ainews fetch --source hacker-news  # Fetch one source now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.build()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := c.pipeline.Run(ctx, orchestrator.PipelineOptions{Force: force, SourceIDs: sources})
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "fetch sources even if their interval has not elapsed")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "only fetch these source ids (repeatable)")
	return cmd
}

func renderReport(out io.Writer, r model.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run " + r.ID)
	t.AppendRows([]table.Row{
		{"Date", r.Date},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
		{"Sources ok", r.Succeeded},
		{"Sources failed", r.Failed},
		{"Sources skipped", r.Skipped},
		{"Articles fetched", humanize.Comma(int64(r.Fetched))},
		{"Articles added", humanize.Comma(int64(r.Added))},
		{"Duplicates dropped", humanize.Comma(int64(r.Deduplicated))},
	})
	t.Render()

	if len(r.Failures) == 0 {
		return
	}
	ids := make([]string, 0, len(r.Failures))
	for id := range r.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ft := table.NewWriter()
	ft.SetOutputMirror(out)
	ft.SetStyle(table.StyleLight)
	ft.AppendHeader(table.Row{"Source", "Error"})
	for _, id := range ids {
		ft.AppendRow(table.Row{id, r.Failures[id]})
	}
	ft.SetColumnConfigs([]table.ColumnConfig{{Name: "Error", WidthMax: 80}})
	ft.Render()
}

// Package cli implements the ainews command-line interface.
package cli

import (
	"fmt"

	"github.com/bryan-buckman/ainews/internal/config"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// app carries the state shared by every command once the root has loaded
// configuration.
type app struct {
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     logger.Logger
}

// NewRootCmd builds the ainews command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ainews",
		Short: "Collect, deduplicate and store daily AI news",
		Long: `ainews fetches articles from registered feeds and web pages, normalizes
and deduplicates them, and stores one JSON file per day.

Example usage:
  ainews sources add https://example.com/feed.xml   # Register a source
  ainews fetch                                      # Fetch every due source
  ainews articles                                   # Show today's articles
  ainews serve                                      # Run the API and scheduler`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: built-in defaults)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newFetchCmd(a),
		newServeCmd(a),
		newSourcesCmd(a),
		newArticlesCmd(a),
		newRunsCmd(a),
		newStatusCmd(a),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) init() error {
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.cfg = cfg
	a.log = log
	a.log.Debug("Configuration loaded", logger.String("config", cfg.String()))
	return nil
}

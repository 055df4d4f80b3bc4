package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bryan-buckman/ainews/internal/fetcher"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/opml"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSourcesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source", "src"},
		Short:   "Manage registered sources",
	}
	cmd.AddCommand(
		newSourcesListCmd(a),
		newSourcesAddCmd(a),
		newSourcesRemoveCmd(a),
		newSourcesToggleCmd(a, "enable", "Enabled", (*registry.Registry).Enable),
		newSourcesToggleCmd(a, "disable", "Disabled", (*registry.Registry).Disable),
		newImportOPMLCmd(a),
		newExportOPMLCmd(a),
	)
	return cmd
}

func newSourcesListCmd(a *app) *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered sources",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			renderSources(cmd.OutOrStdout(), reg.List(enabledOnly), time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled sources")
	return cmd
}

func renderSources(out io.Writer, sources []model.Source, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Type", "Enabled", "Interval", "Last Fetched", "Due", "URL"})
	for _, s := range sources {
		last := "never"
		if s.LastFetched != nil {
			last = humanize.RelTime(*s.LastFetched, now, "ago", "from now")
		}
		t.AppendRow(table.Row{
			s.ID, s.Name, s.Type, yesNo(s.Enabled), s.Interval(), last, yesNo(s.IsDue(now, false)), s.URL,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d sources", len(sources))})
	t.Render()
}

func newSourcesAddCmd(a *app) *cobra.Command {
	var (
		src      model.Source
		typ      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add URL",
		Short: "Register a feed or web page",
		Long: `Register a source. Without --type the URL is fetched once to decide
whether it is a feed or a page to scrape.

Examples:
  ainews sources add https://example.com/feed.xml
  ainews sources add https://lab.example.com/news --type scrape --selector "article.post"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src.URL = args[0]
			src.Type = model.SourceType(strings.ToLower(typ))
			src.FetchInterval = model.Duration(interval)

			if src.Type == "" {
				det, err := a.detect(ctx, src.URL)
				if err != nil {
					return fmt.Errorf("detect source type (use --type to skip): %w", err)
				}
				src.Type = det.Type
				if src.Name == "" {
					src.Name = det.Title
				}
			}

			var added model.Source
			err := a.updateRegistry(ctx, func(r *registry.Registry) error {
				var err error
				added, err = r.Add(src)
				return err
			})
			if err != nil {
				return err
			}
			a.log.Info("Source added", logger.String("id", added.ID), logger.String("type", string(added.Type)))
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) as %s\n", added.Name, added.Type, added.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&src.Name, "name", "", "display name (default: feed or page title)")
	cmd.Flags().StringVar(&typ, "type", "", "source type: feed or scrape (default: detect)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "minimum time between fetches (default 24h)")
	cmd.Flags().StringVar(&src.ScrapeSelector, "selector", "", "CSS selector for article blocks on a listing page")
	cmd.Flags().StringSliceVar(&src.Tags, "tag", nil, "tag applied to the source's articles (repeatable)")
	cmd.Flags().StringVar(&src.Notes, "notes", "", "free-form notes")
	return cmd
}

func (a *app) detect(ctx context.Context, rawURL string) (fetcher.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Fetch.Timeout)
	defer cancel()
	return fetcher.DetectSourceType(ctx, a.fetchOptions(), rawURL)
}

func newSourcesRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Remove a source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.updateRegistry(cmd.Context(), func(r *registry.Registry) error {
				return r.Remove(args[0])
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newSourcesToggleCmd(a *app, use, done string, apply func(*registry.Registry, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: "Mark a source as " + strings.ToLower(done),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.updateRegistry(cmd.Context(), func(r *registry.Registry) error {
				return apply(r, args[0])
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, args[0])
			return nil
		},
	}
}

func newImportOPMLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-opml FILE",
		Short: "Register the feeds listed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open opml: %w", err)
			}
			defer f.Close()

			entries, err := opml.Parse(f)
			if err != nil {
				return err
			}
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			res, err := opml.Import(cmd.Context(), reg, entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d feeds (%d already registered)\n",
				len(res.Added), len(entries), len(res.Skipped))
			return nil
		},
	}
}

func newExportOPMLCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-opml",
		Short: "Write the registered feeds as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			data, err := opml.Export("AI News Sources", reg.List(false))
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write opml: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", output, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

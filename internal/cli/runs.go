package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runLog, err := database.Open(a.cfg.Database.Driver, a.cfg.DatabaseDSN())
			if err != nil {
				return fmt.Errorf("open run log: %w", err)
			}
			defer runLog.Close()

			runs, err := runLog.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", database.DefaultListLimit, "maximum runs to show")
	return cmd
}

func renderRuns(out io.Writer, runs []model.RunReport, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Started", "Date", "Duration", "OK", "Failed", "Skipped", "Added", "Dupes", "ID"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Date,
			r.Duration().Round(time.Millisecond),
			r.Succeeded,
			r.Failed,
			r.Skipped,
			humanize.Comma(int64(r.Added)),
			humanize.Comma(int64(r.Deduplicated)),
			r.ID,
		})
	}
	t.Render()
}

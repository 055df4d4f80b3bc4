package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// status is a snapshot of the aggregator's state.
type status struct {
	Sources     int
	Enabled     int
	Due         int
	Dates       int
	LatestDate  string
	LatestCount int
	StoreBytes  uint64
	RunLog      string
	LastRun     *model.RunReport
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize sources, stored articles and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var st status

			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			st.Sources = reg.Len()
			st.Enabled = len(reg.List(true))
			st.Due = len(reg.Due(now, false))

			articles := store.New(a.cfg.ArticlesDir(), a.cfg.Run.LockTimeout, a.log)
			dates, err := articles.ListDates()
			if err != nil {
				return err
			}
			st.Dates = len(dates)
			for _, d := range dates {
				if fi, err := os.Stat(articles.Path(d)); err == nil {
					st.StoreBytes += uint64(fi.Size())
				}
			}
			if len(dates) > 0 {
				st.LatestDate = dates[0]
				set, err := articles.Load(dates[0])
				if err != nil {
					return err
				}
				st.LatestCount = set.Len()
			}

			runLog, err := database.Open(a.cfg.Database.Driver, a.cfg.DatabaseDSN())
			if err != nil {
				return fmt.Errorf("open run log: %w", err)
			}
			defer runLog.Close()
			st.RunLog = runLog.DatabaseType()
			if st.LastRun, err = runLog.LatestRun(cmd.Context()); err != nil {
				return err
			}

			renderStatus(cmd.OutOrStdout(), st, now)
			return nil
		},
	}
}

func renderStatus(out io.Writer, st status, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("ainews status")

	latest := "none"
	if st.LatestDate != "" {
		latest = fmt.Sprintf("%s (%s articles)", st.LatestDate, humanize.Comma(int64(st.LatestCount)))
	}
	lastRun := "never"
	if st.LastRun != nil {
		lastRun = fmt.Sprintf("%s, +%d articles, %d failed",
			humanize.RelTime(st.LastRun.StartedAt, now, "ago", "from now"), st.LastRun.Added, st.LastRun.Failed)
	}

	t.AppendRows([]table.Row{
		{"Sources", fmt.Sprintf("%d registered, %d enabled, %d due", st.Sources, st.Enabled, st.Due)},
		{"Stored days", st.Dates},
		{"Latest day", latest},
		{"Store size", humanize.Bytes(st.StoreBytes)},
		{"Run log", st.RunLog},
		{"Last run", lastRun},
	})
	t.Render()
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newArticlesCmd(a *app) *cobra.Command {
	var (
		date   string
		limit  int
		source string
	)
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Show the articles stored for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" || date == "today" {
				date = model.DateKey(time.Now())
			}
			st := store.New(a.cfg.ArticlesDir(), a.cfg.Run.LockTimeout, a.log)
			set, err := st.Load(date)
			if err != nil {
				return err
			}

			articles := set.Articles
			if source != "" {
				articles = nil
				for _, art := range set.Articles {
					if art.SourceID == source {
						articles = append(articles, art)
					}
				}
			}
			renderArticles(cmd.OutOrStdout(), date, articles, limit, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to show, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum articles to show (0 for all)")
	cmd.Flags().StringVar(&source, "source", "", "only show articles from this source id")
	return cmd
}

func renderArticles(out io.Writer, date string, articles []model.Article, limit int, now time.Time) {
	shown := articles
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Articles for " + date)
	t.AppendHeader(table.Row{"Published", "Source", "Title", "URL"})
	for _, art := range shown {
		published := "-"
		if !art.PublishedAt.IsZero() {
			published = humanize.RelTime(art.PublishedAt, now, "ago", "from now")
		}
		t.AppendRow(table.Row{published, art.SourceID, art.Title, art.URL})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 70},
		{Name: "URL", WidthMax: 60},
	})
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%s of %s articles", humanize.Comma(int64(len(shown))), humanize.Comma(int64(len(articles))))})
	t.Render()
}

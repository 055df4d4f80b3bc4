package orchestrator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/dedup"
	"github.com/bryan-buckman/ainews/internal/fetcher"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedItem struct {
	guid  string
	title string
	body  string
}

func rssDoc(items ...feedItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Test</title>`)
	for _, it := range items {
		fmt.Fprintf(&b, `<item><title>%s</title><link>https://news.example.com/%s</link><guid>%s</guid>`+
			`<pubDate>Sun, 18 Oct 2026 08:00:00 GMT</pubDate><description>%s</description></item>`,
			it.title, it.guid, it.guid, it.body)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type pipelineEnv struct {
	pipeline *orchestrator.Pipeline
	store    *store.Store
	runLog   *database.DB
	regPath  string
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDoc(
			feedItem{"a1", "Alpha launches new model", "Alpha's model story from wire one."},
			feedItem{"b1", "Beta raises funding round", "Beta funding story."},
		))
	})
	mux.HandleFunc("/feed2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDoc(
			feedItem{"a2", "Alpha launches new model", "A different write-up of Alpha."},
			feedItem{"g2", "Gamma opens research lab", "Gamma lab story."},
		))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	regPath := filepath.Join(dir, "sources.json")
	reg, err := registry.Load(regPath, time.Second)
	require.NoError(t, err)
	for _, s := range []model.Source{
		{Name: "Feed One", URL: srv.URL + "/feed1", Type: model.SourceFeed},
		{Name: "Broken", URL: srv.URL + "/broken", Type: model.SourceFeed},
		{Name: "Feed Two", URL: srv.URL + "/feed2", Type: model.SourceFeed},
	} {
		_, err := reg.Add(s)
		require.NoError(t, err)
	}
	require.NoError(t, reg.Save(context.Background()))

	runLog, err := database.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runLog.Close() })

	st := store.New(filepath.Join(dir, "articles"), time.Second, logger.NewNop())
	orch := orchestrator.New(fetcher.New(fetcher.Options{Now: clock}), orchestrator.Options{Now: clock})
	p := orchestrator.NewPipeline(orchestrator.PipelineConfig{
		RegistryPath: regPath,
		LockTimeout:  time.Second,
		RunTimeout:   10 * time.Second,
		Concurrency:  2,
		FetchTimeout: 2 * time.Second,
	}, orch, st, dedup.New(0, 0), runLog, metrics.New(), logger.NewNop())

	return &pipelineEnv{pipeline: p, store: st, runLog: runLog, regPath: regPath}
}

func TestPipelineRunPersistsDespiteFailingSource(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	report, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "2026-10-18", report.Date)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 4, report.Fetched)
	assert.Equal(t, 3, report.Added)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Contains(t, report.Failures, "broken")

	set, err := env.store.Load("2026-10-18")
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	titles := []string{set.Articles[0].Title, set.Articles[1].Title, set.Articles[2].Title}
	assert.Equal(t, []string{"Alpha launches new model", "Beta raises funding round", "Gamma opens research lab"}, titles)
	assert.Equal(t, "feed-one", set.Articles[0].SourceID, "registry order decides the surviving copy")

	reg, err := registry.Load(env.regPath, time.Second)
	require.NoError(t, err)
	one, err := reg.Get("feed-one")
	require.NoError(t, err)
	require.NotNil(t, one.LastFetched)
	assert.Equal(t, now, *one.LastFetched)
	broken, err := reg.Get("broken")
	require.NoError(t, err)
	assert.Nil(t, broken.LastFetched, "failed sources stay due")

	runs, err := env.runLog.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
	assert.Contains(t, runs[0].Failures, "broken")
}

func TestPipelineSecondRunSkipsFreshSources(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{})
	require.NoError(t, err)

	report, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Added)

	set, err := env.store.Load("2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}

func TestPipelineExplicitSources(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{})
	require.NoError(t, err)

	report, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{SourceIDs: []string{"feed-one"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 2, report.Deduplicated, "refetched stories are exact duplicates")

	_, err = env.pipeline.Run(ctx, orchestrator.PipelineOptions{SourceIDs: []string{"nope"}})
	assert.ErrorIs(t, err, registry.ErrSourceNotFound)
}

func TestPipelineCancelledRunPersistsNothing(t *testing.T) {
	env := newPipelineEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.pipeline.Run(ctx, orchestrator.PipelineOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	dates, err := env.store.ListDates()
	require.NoError(t, err)
	assert.Empty(t, dates)

	reg, err := registry.Load(env.regPath, time.Second)
	require.NoError(t, err)
	for _, s := range reg.List(false) {
		assert.Nil(t, s.LastFetched, s.ID)
	}

	runs, err := env.runLog.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

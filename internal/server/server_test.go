package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/bryan-buckman/ainews/internal/server"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type stubRunner struct {
	got    orchestrator.PipelineOptions
	report model.RunReport
	err    error
}

func (s *stubRunner) Run(ctx context.Context, opts orchestrator.PipelineOptions) (model.RunReport, error) {
	s.got = opts
	return s.report, s.err
}

type testEnv struct {
	srv     *server.Server
	runner  *stubRunner
	store   *store.Store
	runLog  *database.DB
	regPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	regPath := filepath.Join(dir, "sources.json")
	reg, err := registry.Load(regPath, time.Second)
	require.NoError(t, err)
	_, err = reg.Add(model.Source{Name: "Hacker News", URL: "https://news.ycombinator.com/rss", Type: model.SourceFeed, Tags: []string{"tech"}})
	require.NoError(t, err)
	_, err = reg.Add(model.Source{Name: "Lab Page", URL: "https://lab.example.com/news", Type: model.SourceScrape})
	require.NoError(t, err)
	require.NoError(t, reg.Save(ctx))

	st := store.New(filepath.Join(dir, "articles"), time.Second, logger.NewNop())
	require.NoError(t, st.Save(ctx, model.DailyArticleSet{
		Date: "2026-10-18",
		Articles: []model.Article{
			{ID: "a1", Title: "First", SourceID: "hacker-news", ContentHash: "h1"},
			{ID: "a2", Title: "Second", SourceID: "lab-page", ContentHash: "h2"},
		},
	}))
	require.NoError(t, st.Save(ctx, model.DailyArticleSet{Date: "2026-10-17"}))

	runLog, err := database.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runLog.Close() })

	runner := &stubRunner{}
	srv := server.New(server.Deps{
		Runner:       runner,
		Store:        st,
		RunLog:       runLog,
		RegistryPath: regPath,
		LockTimeout:  time.Second,
		Metrics:      metrics.New(),
		Now:          func() time.Time { return now },
	})
	return &testEnv{srv: srv, runner: runner, store: st, runLog: runLog, regPath: regPath}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ainews_")
}

func TestDates(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/dates", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct{ Dates []string }
	decode(t, rec, &body)
	assert.Equal(t, []string{"2026-10-18", "2026-10-17"}, body.Dates)
}

func TestArticles(t *testing.T) {
	env := newTestEnv(t)

	type response struct {
		Date     string
		Count    int
		Articles []model.Article
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/articles/today", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all response
	decode(t, rec, &all)
	assert.Equal(t, "2026-10-18", all.Date)
	assert.Equal(t, 2, all.Count)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/articles/2026-10-18?source=lab-page", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered response
	decode(t, rec, &filtered)
	require.Len(t, filtered.Articles, 1)
	assert.Equal(t, "a2", filtered.Articles[0].ID)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/articles/2026-01-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var empty response
	decode(t, rec, &empty)
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Articles)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/articles/yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSources(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct{ Sources []model.Source }
	decode(t, rec, &body)
	require.Len(t, body.Sources, 2)
	assert.Equal(t, "hacker-news", body.Sources[0].ID)
	assert.Equal(t, model.SourceScrape, body.Sources[1].Type)
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		started := now.Add(time.Duration(i) * time.Hour)
		require.NoError(t, env.runLog.RecordRun(ctx, model.RunReport{
			ID:         id,
			Date:       "2026-10-18",
			StartedAt:  started,
			FinishedAt: started.Add(2 * time.Second),
			Added:      i,
			Failures:   map[string]string{},
		}))
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []struct {
			ID         string `json:"id"`
			DurationMS int64  `json:"duration_ms"`
		}
	}
	decode(t, rec, &body)
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-3", body.Runs[0].ID)
	assert.Equal(t, int64(2000), body.Runs[0].DurationMS)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.runner.report = model.RunReport{ID: "r1", Date: "2026-10-18", StartedAt: now, FinishedAt: now.Add(time.Second), Added: 4}

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/refresh?force=true&source=hacker-news", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.runner.got.Force)
	assert.Equal(t, []string{"hacker-news"}, env.runner.got.SourceIDs)

	var body struct {
		ID    string `json:"id"`
		Added int    `json:"added"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "r1", body.ID)
	assert.Equal(t, 4, body.Added)
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", orchestrator.ErrRunInProgress, http.StatusConflict},
		{"unknown source", registry.ErrSourceNotFound, http.StatusNotFound},
		{"lock timeout", fmt.Errorf("save articles: %w", store.ErrLockTimeout), http.StatusServiceUnavailable},
		{"store failure", &store.CorruptStoreError{Path: "2026-10-18.json", Err: errors.New("bad json")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.runner.err = tt.err
			rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusServiceUnavailable {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestExportOPML(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/export-opml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `xmlUrl="https://news.ycombinator.com/rss"`)
	assert.NotContains(t, rec.Body.String(), "lab.example.com")
}

func TestImportOPML(t *testing.T) {
	env := newTestEnv(t)

	doc := `<opml version="2.0"><body>
		<outline text="Hacker News" xmlUrl="https://news.ycombinator.com/rss"/>
		<outline text="AI"><outline text="Model Notes" xmlUrl="https://notes.example.com/atom"/></outline>
	</body></opml>`
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "subs.opml")
	require.NoError(t, err)
	_, err = fw.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","imported":1,"skipped":1,"total":2}`, rec.Body.String())

	reg, err := registry.Load(env.regPath, time.Second)
	require.NoError(t, err)
	src, ok := reg.FindByURL("https://notes.example.com/atom")
	require.True(t, ok)
	assert.Equal(t, []string{"ai"}, src.Tags)
}

func TestImportOPMLRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/import-opml", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "subs.opml")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("<opml><body>"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.srv.Shutdown(context.Background()))
}

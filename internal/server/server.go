// Package server provides the HTTP API over the article store, the source
// registry and the run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/opml"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxOPMLBytes bounds an uploaded OPML document.
const maxOPMLBytes = 5 << 20

// Deps are the collaborators a Server serves from.
type Deps struct {
	Runner       orchestrator.Runner
	Store        *store.Store
	RunLog       database.Store
	RegistryPath string
	LockTimeout  time.Duration
	Metrics      *metrics.Metrics
	Poller       *orchestrator.Poller // optional; started and stopped with the server
	Logger       logger.Logger
	Now          func() time.Time
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	router chi.Router
	logger logger.Logger

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// New creates a new server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.RunLog == nil {
		deps.RunLog = database.Discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, logger: deps.Logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/dates", s.handleDates)
		r.Get("/articles/{date}", s.handleArticles)
		r.Get("/sources", s.handleSources)
		r.Get("/runs", s.handleRuns)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/import-opml", s.handleImportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = hs
	s.mu.Unlock()

	if s.deps.Poller != nil {
		s.deps.Poller.Start()
	}
	s.logger.Info("Server starting", logger.String("addr", addr))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops the poller, cancelling any scheduled run, then drains
// open connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Poller != nil {
		s.deps.Poller.Stop()
	}
	s.mu.Lock()
	s.closed = true
	hs := s.http
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// --- API Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.deps.Store.ListDates()
	if err != nil {
		s.serverError(w, "list dates", err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": dates})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if date == "today" {
		date = model.DateKey(s.deps.Now())
	}

	set, err := s.deps.Store.Load(date)
	switch {
	case errors.Is(err, store.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.serverError(w, "load articles", err)
		return
	}

	articles := set.Articles
	if src := r.URL.Query().Get("source"); src != "" {
		articles = make([]model.Article, 0, len(set.Articles))
		for _, a := range set.Articles {
			if a.SourceID == src {
				articles = append(articles, a)
			}
		}
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":     date,
		"count":    len(articles),
		"articles": articles,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	reg, err := registry.Load(s.deps.RegistryPath, s.deps.LockTimeout)
	if err != nil {
		s.serverError(w, "load registry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": reg.List(false)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := database.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.deps.RunLog.ListRuns(r.Context(), limit)
	if err != nil {
		s.serverError(w, "list runs", err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	opts := orchestrator.PipelineOptions{Force: force}
	if ids := r.URL.Query()["source"]; len(ids) > 0 {
		opts.SourceIDs = ids
	}

	report, err := s.deps.Runner.Run(r.Context(), opts)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, registry.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrLockTimeout):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.serverError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(report))
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	reg, err := registry.Load(s.deps.RegistryPath, s.deps.LockTimeout)
	if err != nil {
		s.serverError(w, "load registry", err)
		return
	}
	data, err := opml.Export("AI News Sources", reg.List(false))
	if err != nil {
		s.serverError(w, "export opml", err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=ainews-sources.opml")
	_, _ = w.Write(data)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLBytes)
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse OPML: %v", err))
		return
	}

	reg, err := registry.Load(s.deps.RegistryPath, s.deps.LockTimeout)
	if err != nil {
		s.serverError(w, "load registry", err)
		return
	}
	res, err := opml.Import(r.Context(), reg, entries)
	switch {
	case errors.Is(err, registry.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.serverError(w, "import opml", err)
		return
	}

	s.logger.Info("Imported OPML",
		logger.Int("imported", len(res.Added)),
		logger.Int("skipped", len(res.Skipped)),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": len(res.Added),
		"skipped":  len(res.Skipped),
		"total":    len(entries),
	})
}

// --- Helpers ---

// runView is the JSON shape of a RunReport.
type runView struct {
	ID           string            `json:"id"`
	Date         string            `json:"date"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	DurationMS   int64             `json:"duration_ms"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"`
	Fetched      int               `json:"fetched"`
	Added        int               `json:"added"`
	Deduplicated int               `json:"deduplicated"`
	Failures     map[string]string `json:"failures,omitempty"`
}

func newRunView(r model.RunReport) runView {
	return runView{
		ID:           r.ID,
		Date:         r.Date,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMS:   r.Duration().Milliseconds(),
		Succeeded:    r.Succeeded,
		Failed:       r.Failed,
		Skipped:      r.Skipped,
		Fetched:      r.Fetched,
		Added:        r.Added,
		Deduplicated: r.Deduplicated,
		Failures:     r.Failures,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("HTTP request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("duration", time.Since(start)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", logger.String("op", op), logger.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

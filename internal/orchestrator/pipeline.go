package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/dedup"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/normalize"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/bryan-buckman/ainews/internal/store"
	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a run is requested while another is
// still running in this process.
var ErrRunInProgress = errors.New("a run is already in progress")

// DefaultRunTimeout bounds a whole pipeline run.
const DefaultRunTimeout = 10 * time.Minute

// PipelineConfig holds the tunables of a Pipeline.
type PipelineConfig struct {
	RegistryPath string
	LockTimeout  time.Duration
	RunTimeout   time.Duration
	Concurrency  int
	FetchTimeout time.Duration
}

// PipelineOptions selects what one run fetches.
type PipelineOptions struct {
	Force     bool
	SourceIDs []string // fetch only these sources, ignoring their interval
}

// Pipeline runs fetch, normalize, deduplicate and persist for one date.
type Pipeline struct {
	cfg          PipelineConfig
	orchestrator *Orchestrator
	store        *store.Store
	dedup        *dedup.Deduplicator
	runLog       database.Store
	metrics      *metrics.Metrics
	logger       logger.Logger
	now          func() time.Time

	running sync.Mutex
}

// NewPipeline wires a pipeline. runLog and m may be nil.
func NewPipeline(cfg PipelineConfig, orch *Orchestrator, st *store.Store, dd *dedup.Deduplicator,
	runLog database.Store, m *metrics.Metrics, log logger.Logger) *Pipeline {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if runLog == nil {
		runLog = database.Discard{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if dd == nil {
		dd = dedup.New(0, 0)
	}
	return &Pipeline{
		cfg:          cfg,
		orchestrator: orch,
		store:        st,
		dedup:        dd,
		runLog:       runLog,
		metrics:      m,
		logger:       log,
		now:          orch.now,
	}
}

// Run executes one pipeline run. Fetch failures are reported in the
// returned RunReport; only registry, store or cancellation problems produce
// an error. Nothing is persisted when ctx is cancelled before the save.
func (p *Pipeline) Run(ctx context.Context, opts PipelineOptions) (model.RunReport, error) {
	if !p.running.TryLock() {
		return model.RunReport{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	started := p.now()
	report := model.RunReport{
		ID:        uuid.NewString(),
		StartedAt: started,
		Date:      model.DateKey(started),
		Failures:  make(map[string]string),
	}
	log := p.logger.With(logger.String("run_id", report.ID), logger.String("date", report.Date))

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	reg, err := registry.Load(p.cfg.RegistryPath, p.cfg.LockTimeout)
	if err != nil {
		return p.fail(report, fmt.Errorf("load registry: %w", err))
	}

	sources, force, err := selectSources(reg, opts)
	if err != nil {
		return p.fail(report, err)
	}

	batch := p.orchestrator.Run(runCtx, sources, RunOptions{
		Force:        force,
		Concurrency:  p.cfg.Concurrency,
		FetchTimeout: p.cfg.FetchTimeout,
	})
	report.Succeeded = len(batch.Results)
	report.Failed = len(batch.Failures)
	report.Skipped = len(batch.Skipped)
	for id, ferr := range batch.Failures {
		report.Failures[id] = ferr.Error()
	}

	if err := runCtx.Err(); err != nil {
		log.Warn("Run cancelled before save, nothing persisted", logger.Error(err))
		return p.fail(report, fmt.Errorf("run cancelled: %w", err))
	}

	incoming := normalize.Batch(batch.Results)
	report.Fetched = len(incoming)

	err = p.store.Update(runCtx, report.Date, func(existing model.DailyArticleSet) (model.DailyArticleSet, error) {
		merged, dropped := p.dedup.Deduplicate(existing, incoming)
		report.Added = merged.Len() - existing.Len()
		report.Deduplicated = len(dropped)
		return merged, nil
	})
	if err != nil {
		report.Added, report.Deduplicated = 0, 0
		return p.fail(report, fmt.Errorf("save articles: %w", err))
	}

	// Only advance last_fetched once the articles are safely on disk.
	if len(batch.Results) > 0 {
		err = reg.Update(runCtx, func(r *registry.Registry) error {
			for _, res := range batch.Results {
				if err := r.MarkFetched(res.SourceID, res.StartedAt); err != nil && !errors.Is(err, registry.ErrSourceNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return p.fail(report, fmt.Errorf("update registry: %w", err))
		}
	}

	report.FinishedAt = p.now()
	p.metrics.ObserveRun(report, "ok")
	if err := p.runLog.RecordRun(ctx, report); err != nil {
		log.Error("Failed to record run", logger.Error(err))
	}

	log.Info("Run complete",
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed),
		logger.Int("skipped", report.Skipped),
		logger.Int("added", report.Added),
		logger.Int("deduplicated", report.Deduplicated),
		logger.Duration("duration", report.Duration()),
	)
	return report, nil
}

// RunLog returns the run history store.
func (p *Pipeline) RunLog() database.Store {
	return p.runLog
}

// Store returns the article store.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

func (p *Pipeline) fail(report model.RunReport, err error) (model.RunReport, error) {
	report.FinishedAt = p.now()
	outcome := "error"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "cancelled"
	}
	p.metrics.ObserveRun(report, outcome)
	p.logger.Error("Run failed", logger.String("run_id", report.ID), logger.Error(err))
	return report, err
}

// selectSources returns the candidate sources in registration order and
// whether the interval check is bypassed.
func selectSources(reg *registry.Registry, opts PipelineOptions) ([]model.Source, bool, error) {
	if len(opts.SourceIDs) == 0 {
		return reg.List(false), opts.Force, nil
	}

	wanted := make(map[string]bool, len(opts.SourceIDs))
	for _, id := range opts.SourceIDs {
		if _, err := reg.Get(id); err != nil {
			return nil, false, err
		}
		wanted[id] = true
	}
	var sources []model.Source
	for _, s := range reg.List(false) {
		if wanted[s.ID] {
			sources = append(sources, s)
		}
	}
	return sources, true, nil
}

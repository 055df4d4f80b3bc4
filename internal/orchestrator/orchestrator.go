// Package orchestrator schedules source fetches and runs the aggregation
// pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryan-buckman/ainews/internal/fetcher"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/model"
)

// Run defaults.
const (
	// DefaultConcurrency is the number of parallel fetches.
	DefaultConcurrency = 10
	// DefaultFetchTimeout bounds a single source fetch.
	DefaultFetchTimeout = 30 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	MaxPerDomain int
	DomainDelay  time.Duration
	Logger       logger.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// RunOptions controls one batch.
type RunOptions struct {
	Force        bool
	Concurrency  int
	FetchTimeout time.Duration
}

// BatchResult is the outcome of one Run. Results follow the order of the
// sources passed to Run.
type BatchResult struct {
	Results  []model.RawFetchResult
	Failures map[string]error // source id -> reason
	Skipped  []string         // sources that were not due
}

// Orchestrator decides which sources are due and fetches them in parallel.
type Orchestrator struct {
	fetcher       fetcher.Fetcher
	domainLimiter *domainLimiter
	logger        logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New creates an Orchestrator around f.
func New(f fetcher.Fetcher, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		fetcher:       f,
		domainLimiter: newDomainLimiter(opts.MaxPerDomain, opts.DomainDelay),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// fetchJob pairs a due source with its position in the input.
type fetchJob struct {
	index  int
	source model.Source
}

// fetchOutcome holds the result of fetching a single source.
type fetchOutcome struct {
	index  int
	source model.Source
	result model.RawFetchResult
	err    error
}

// Run fetches every due source with at most opts.Concurrency fetches in
// flight. A fetch abandoned after its timeout still holds its slot until the
// fetcher returns. A failing source is recorded and never affects the others.
// When ctx is cancelled no new fetches start and in-flight fetches are
// abandoned.
func (o *Orchestrator) Run(ctx context.Context, sources []model.Source, opts RunOptions) BatchResult {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	batch := BatchResult{Failures: make(map[string]error)}
	now := o.now()

	var due []fetchJob
	for i, src := range sources {
		if !src.IsDue(now, opts.Force) {
			batch.Skipped = append(batch.Skipped, src.ID)
			o.metrics.ObserveFetch(src.Type, metrics.ResultSkipped)
			continue
		}
		due = append(due, fetchJob{index: i, source: src})
	}
	if len(due) == 0 {
		return batch
	}

	workers := opts.Concurrency
	if workers > len(due) {
		workers = len(due)
	}
	o.logger.Info("Fetching sources",
		logger.Int("due", len(due)),
		logger.Int("skipped", len(batch.Skipped)),
		logger.Int("concurrency", workers),
	)

	outcomes := o.fetchParallel(ctx, due, workers, opts.FetchTimeout)

	ordered := make([]*fetchOutcome, len(sources))
	for i := range outcomes {
		ordered[outcomes[i].index] = &outcomes[i]
	}
	for _, out := range ordered {
		if out == nil {
			continue
		}
		o.metrics.ObserveFetch(out.source.Type, resultLabel(out.err))
		if out.err != nil {
			batch.Failures[out.source.ID] = out.err
			o.logger.Warn("Fetch failed",
				logger.String("source", out.source.ID),
				logger.String("url", out.source.URL),
				logger.Error(out.err),
			)
			continue
		}
		batch.Results = append(batch.Results, out.result)
	}
	return batch
}

// inflight bounds the fetches of one run. A slot stays taken until the
// fetch goroutine returns, including a fetch abandoned after its timeout.
type inflight struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newInflight(n int) *inflight {
	return &inflight{slots: make(chan struct{}, n)}
}

func (in *inflight) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case in.slots <- struct{}{}:
		in.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *inflight) release() {
	<-in.slots
	in.wg.Done()
}

// wait blocks until every started fetch has returned or ctx is done.
func (in *inflight) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// fetchParallel fetches sources using a worker pool. It returns once every
// fetch it started has returned, unless ctx is cancelled first.
func (o *Orchestrator) fetchParallel(ctx context.Context, jobs []fetchJob, workers int, timeout time.Duration) []fetchOutcome {
	var wg sync.WaitGroup
	running := newInflight(workers)

	jobChan := make(chan fetchJob, len(jobs))
	resultChan := make(chan fetchOutcome, len(jobs))

	// Start workers
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				out := fetchOutcome{index: job.index, source: job.source}
				out.result, out.err = o.fetchOne(ctx, running, job.source, timeout)
				resultChan <- out
			}
		}()
	}

	// Send sources to workers
	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	// Collect results in separate goroutine
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	outcomes := make([]fetchOutcome, 0, len(jobs))
	completed := 0
	for out := range resultChan {
		outcomes = append(outcomes, out)
		completed++
		if completed%50 == 0 {
			o.logger.Info("Fetch progress", logger.Int("completed", completed), logger.Int("total", len(jobs)))
		}
	}
	running.wait(ctx)
	return outcomes
}

// fetchOne fetches a single source under the run's fetch slots, the
// per-domain limit and the per-fetch timeout. The caller stops waiting once
// the timeout or ctx expires; the slot and the domain slot are released only
// when the fetch itself returns.
func (o *Orchestrator) fetchOne(ctx context.Context, running *inflight, src model.Source, timeout time.Duration) (model.RawFetchResult, error) {
	if err := running.acquire(ctx); err != nil {
		return model.RawFetchResult{}, fmt.Errorf("not started: %w", err)
	}
	domain := extractDomain(src.URL)
	if err := o.domainLimiter.acquire(ctx, domain); err != nil {
		running.release()
		return model.RawFetchResult{}, fmt.Errorf("rate limit cancelled for %s: %w", src.URL, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := o.now()
	type fetched struct {
		result model.RawFetchResult
		err    error
	}
	done := make(chan fetched, 1)
	go func() {
		defer running.release()
		defer o.domainLimiter.release(domain)
		res, err := o.fetcher.Fetch(fetchCtx, src)
		done <- fetched{result: res, err: err}
	}()

	timedOut := func() error {
		return &fetcher.FetchError{
			Kind:     fetcher.ErrTimeout,
			SourceID: src.ID,
			URL:      src.URL,
			Err:      fmt.Errorf("no response within %s: %w", timeout, fetchCtx.Err()),
		}
	}

	select {
	case f := <-done:
		if f.err != nil {
			if ctx.Err() == nil && fetchCtx.Err() != nil && !errors.Is(f.err, fetcher.ErrTimeout) {
				return model.RawFetchResult{}, timedOut()
			}
			return model.RawFetchResult{}, f.err
		}
		if f.result.SourceID == "" {
			f.result.SourceID = src.ID
		}
		if f.result.SourceType == "" {
			f.result.SourceType = src.Type
		}
		if f.result.StartedAt.IsZero() {
			f.result.StartedAt = started
		}
		if f.result.FetchedAt.IsZero() {
			f.result.FetchedAt = o.now()
		}
		return f.result, nil
	case <-fetchCtx.Done():
		if err := ctx.Err(); err != nil {
			return model.RawFetchResult{}, fmt.Errorf("fetch %s abandoned: %w", src.ID, err)
		}
		return model.RawFetchResult{}, timedOut()
	}
}

// resultLabel maps a fetch error to its metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, fetcher.ErrTimeout):
		return "timeout"
	case errors.Is(err, fetcher.ErrNetwork):
		return "network"
	case errors.Is(err, fetcher.ErrParse):
		return "parse"
	case errors.Is(err, fetcher.ErrExtraction):
		return "extraction"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

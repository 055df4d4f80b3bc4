package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/dedup"
	"github.com/bryan-buckman/ainews/internal/fetcher"
	"github.com/bryan-buckman/ainews/internal/metrics"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/bryan-buckman/ainews/internal/registry"
	"github.com/bryan-buckman/ainews/internal/store"
)

// components is the wired aggregation stack.
type components struct {
	store    *store.Store
	runLog   database.Store
	metrics  *metrics.Metrics
	pipeline *orchestrator.Pipeline
}

// build wires the pipeline from configuration. The caller must Close it.
func (a *app) build() (*components, error) {
	cfg := a.cfg

	runLog, err := database.Open(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	m := metrics.New()
	st := store.New(cfg.ArticlesDir(), cfg.Run.LockTimeout, a.log)
	f := fetcher.New(a.fetchOptions())
	orch := orchestrator.New(f, orchestrator.Options{
		MaxPerDomain: cfg.Fetch.MaxPerDomain,
		DomainDelay:  cfg.Fetch.DomainDelay,
		Logger:       a.log,
		Metrics:      m,
	})
	p := orchestrator.NewPipeline(orchestrator.PipelineConfig{
		RegistryPath: cfg.SourcesFile(),
		LockTimeout:  cfg.Run.LockTimeout,
		RunTimeout:   cfg.Run.Timeout,
		Concurrency:  cfg.Fetch.MaxConcurrent,
		FetchTimeout: cfg.Fetch.Timeout,
	}, orch, st, dedup.New(cfg.Dedup.TitleSimilarity, cfg.Dedup.PublishWindow), runLog, m, a.log)

	return &components{store: st, runLog: runLog, metrics: m, pipeline: p}, nil
}

func (c *components) Close() error {
	return c.runLog.Close()
}

func (a *app) fetchOptions() fetcher.Options {
	return fetcher.Options{
		Client:       &http.Client{Timeout: a.cfg.Fetch.Timeout},
		UserAgent:    a.cfg.Fetch.UserAgent,
		MaxBodyBytes: a.cfg.Fetch.MaxBodyBytes,
	}
}

func (a *app) loadRegistry() (*registry.Registry, error) {
	return registry.Load(a.cfg.SourcesFile(), a.cfg.Run.LockTimeout)
}

// updateRegistry applies fn to the registry under its file lock.
func (a *app) updateRegistry(ctx context.Context, fn func(*registry.Registry) error) error {
	reg, err := a.loadRegistry()
	if err != nil {
		return err
	}
	return reg.Update(ctx, fn)
}

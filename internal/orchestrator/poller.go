package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/robfig/cron/v3"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, opts PipelineOptions) (model.RunReport, error)
}

// Poller runs the pipeline on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Poller struct {
	cron   *cron.Cron
	runner Runner
	logger logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPoller creates a background poller for schedule, a standard five-field
// cron expression or a descriptor such as "@hourly".
func NewPoller(schedule string, runner Runner, log logger.Logger) (*Poller, error) {
	if log == nil {
		log = logger.NewNop()
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{cron: c, runner: runner, logger: log, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(schedule, p.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.logger.Info("Poller started")
	p.cron.Start()
}

// Stop cancels any running pipeline and waits for it to return.
func (p *Poller) Stop() {
	p.cancel()
	<-p.cron.Stop().Done()
	p.logger.Info("Poller stopped")
}

func (p *Poller) tick() {
	report, err := p.runner.Run(p.ctx, PipelineOptions{})
	switch {
	case errors.Is(err, ErrRunInProgress):
		p.logger.Info("Poller: run already in progress, skipping tick")
	case err != nil:
		p.logger.Error("Poller: run failed", logger.Error(err))
	default:
		p.logger.Info("Poller: run finished",
			logger.String("run_id", report.ID),
			logger.Int("added", report.Added),
		)
	}
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

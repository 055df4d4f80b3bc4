package orchestrator_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner counts runs and blocks each one until released or cancelled.
type blockingRunner struct {
	started atomic.Int32
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, opts orchestrator.PipelineOptions) (model.RunReport, error) {
	r.started.Add(1)
	select {
	case <-r.release:
	case <-ctx.Done():
		return model.RunReport{}, ctx.Err()
	}
	return model.RunReport{ID: "run"}, nil
}

func TestNewPollerRejectsBadSchedule(t *testing.T) {
	_, err := orchestrator.NewPoller("every tuesday", &blockingRunner{}, logger.NewNop())
	assert.Error(t, err)
}

func TestPollerSkipsOverlappingTicks(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	runner := &blockingRunner{release: make(chan struct{})}
	p, err := orchestrator.NewPoller("@every 1s", runner, logger.NewNop())
	require.NoError(t, err)

	p.Start()
	require.Eventually(t, func() bool { return runner.started.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	// Further ticks fire while the first run is blocked.
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, int32(1), runner.started.Load())

	close(runner.release)
	require.Eventually(t, func() bool { return runner.started.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
	p.Stop()
}

func TestPollerStopCancelsRunningJob(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	runner := &blockingRunner{release: make(chan struct{})}
	p, err := orchestrator.NewPoller("@every 1s", runner, logger.NewNop())
	require.NoError(t, err)

	p.Start()
	require.Eventually(t, func() bool { return runner.started.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []supervisor.StartOptions
	err   error
	panic bool
}

func (f *fakeStarter) Start(opts supervisor.StartOptions) (supervisor.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return supervisor.StartResult{}, f.err
	}
	return supervisor.StartResult{RunID: "run-1", PID: 42, LogPath: "/tmp/x.log"}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()
	_, err := New("not a cron", &fakeStarter{}, supervisor.StartOptions{}, nil)
	require.ErrorContains(t, err, "parse schedule")

	_, err = New("@daily", nil, supervisor.StartOptions{}, nil)
	require.Error(t, err)
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSpec("*/15 * * * *"))
	require.NoError(t, ValidateSpec("@hourly"))
	require.Error(t, ValidateSpec("* * * * * *"))
}

func TestTickPassesOptions(t *testing.T) {
	t.Parallel()
	starter := &fakeStarter{}
	s, err := New("0 3 * * *", starter, supervisor.StartOptions{TargetFilter: "acme", MaxPages: 50}, nil)
	require.NoError(t, err)

	s.Tick()
	require.Equal(t, 1, starter.count())
	assert.Equal(t, "acme", starter.calls[0].TargetFilter)
	assert.Equal(t, 50, starter.calls[0].MaxPages)
}

func TestTickSkipsWhenRunning(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	starter := &fakeStarter{err: supervisor.ErrAlreadyRunning}
	s, err := New("@hourly", starter, supervisor.StartOptions{}, zap.New(core))
	require.NoError(t, err)

	s.Tick()
	assert.Equal(t, 1, logs.FilterMessage("scheduled run skipped, worker already running").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestTickLogsSpawnFailure(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	starter := &fakeStarter{err: &supervisor.SpawnError{Op: "start", Err: errors.New("no python")}}
	s, err := New("@hourly", starter, supervisor.StartOptions{}, zap.New(core))
	require.NoError(t, err)

	s.Tick()
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRunFiresAndStops(t *testing.T) {
	t.Parallel()
	starter := &fakeStarter{}
	s, err := New("@every 1s", starter, supervisor.StartOptions{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return starter.count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunRecoversFromPanics(t *testing.T) {
	t.Parallel()
	starter := &fakeStarter{panic: true}
	s, err := New("@every 1s", starter, supervisor.StartOptions{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	// The second tick proves the first panic did not kill the cron loop.
	require.Eventually(t, func() bool { return starter.count() >= 2 }, 6*time.Second, 10*time.Millisecond)
}

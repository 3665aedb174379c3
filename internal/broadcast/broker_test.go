package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startBroker(t *testing.T, cfg Config) Broker {
	t.Helper()
	b := NewBroker(cfg, zaptest.NewLogger(t))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBrokerFansOutToEverySubscriber(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{})
	ctx := context.Background()

	a, cleanupA, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanupA()
	c, cleanupC, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanupC()
	assert.Equal(t, 2, b.ClientCount())

	require.NoError(t, b.Publish(ctx, Event{Type: EventTypeStatus, Data: "x"}))
	assert.Equal(t, EventTypeStatus, receive(t, a).Type)
	assert.Equal(t, EventTypeStatus, receive(t, c).Type)
}

func TestBrokerRejectsBeyondMaxClients(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{MaxClients: 1})
	ctx := context.Background()

	_, cleanup, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanup()

	_, _, err = b.Subscribe(ctx)
	require.ErrorIs(t, err, ErrTooManyClients)
	assert.Equal(t, 1, b.ClientCount())
}

func TestBrokerEvictsSlowClient(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{ClientBufferSize: 1})
	ctx := context.Background()

	events, cleanup, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanup()

	for range 5 {
		require.NoError(t, b.Publish(ctx, Event{Type: "tick"}))
	}
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Whatever was buffered drains, then the channel is closed.
	for range events {
	}
}

func TestBrokerContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanup()
	require.Equal(t, 1, b.ClientCount())

	cancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBrokerStopClosesClients(t *testing.T) {
	t.Parallel()
	b := NewBroker(Config{}, zaptest.NewLogger(t))
	require.NoError(t, b.Start(context.Background()))

	events, cleanup, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Stop())
	_, ok := <-events
	assert.False(t, ok)
	cleanup()
	cleanup()

	assert.ErrorIs(t, b.Publish(context.Background(), Event{Type: "late"}), ErrNotRunning)
}

func TestPublishBeforeStart(t *testing.T) {
	t.Parallel()
	b := NewBroker(Config{}, nil)
	assert.ErrorIs(t, b.Publish(context.Background(), Event{}), ErrNotRunning)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{})
	assert.Error(t, b.Start(context.Background()))
}

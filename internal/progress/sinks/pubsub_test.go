package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
	"github.com/JakeFAU/crawl-supervisor/internal/publisher/memory"
)

func TestPublishSinkDefaultKinds(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Kind: progress.KindRunStart, Site: "acme"},
		{RunID: runID, TS: now, Kind: progress.KindPageFetch, URL: "https://a.test"},
		{RunID: runID, TS: now, Kind: progress.KindRunExit, Status: progress.RunSuccess},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "RUN_START", msgs[0].Attributes["kind"])
	assert.Equal(t, "acme", msgs[0].Attributes["site"])
	assert.Equal(t, runUUID.String(), msgs[0].Attributes["run_id"])

	body, ok := msgs[1].Payload.(Message)
	require.True(t, ok)
	assert.Equal(t, "RUN_EXIT", body.Kind)
	assert.Equal(t, progress.RunSuccess, body.Status)
	assert.Equal(t, now, body.TS)
}

func TestPublishSinkAllKinds(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, nil, WithAllKinds())
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Kind: progress.KindPageComplete, URL: "https://a.test", Dur: 1500 * time.Millisecond},
	}))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1500), msgs[0].Payload.(Message).DurationMS)
}

func TestPublishSinkPropagatesFailure(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewPublishSink(pub, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Kind: progress.KindRunStart},
	})
	require.ErrorContains(t, err, "publish RUN_START")
	assert.Empty(t, pub.Messages())
}

package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

// Publisher delivers one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// Message is the JSON body published for each event.
type Message struct {
	RunID      string    `json:"runId"`
	Kind       string    `json:"kind"`
	TS         time.Time `json:"ts"`
	Site       string    `json:"site,omitempty"`
	URL        string    `json:"url,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Status     string    `json:"status,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// NewMessage converts an event to its published form.
func NewMessage(evt progress.Event) Message {
	return Message{
		RunID:      evt.RunUUID().String(),
		Kind:       string(evt.Kind),
		TS:         evt.TS.UTC(),
		Site:       evt.Site,
		URL:        evt.URL,
		Bytes:      evt.Bytes,
		Status:     evt.Status,
		DurationMS: evt.Dur.Milliseconds(),
		Note:       evt.Note,
	}
}

// PublishSink forwards events to a message topic. By default only run
// lifecycle and error events are published; WithAllKinds sends everything.
type PublishSink struct {
	pub    Publisher
	kinds  map[progress.Kind]bool
	logger *zap.Logger
}

// PublishOption customises a PublishSink.
type PublishOption func(*PublishSink)

// WithKinds restricts publishing to the listed kinds.
func WithKinds(kinds ...progress.Kind) PublishOption {
	return func(s *PublishSink) {
		s.kinds = make(map[progress.Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
}

// WithAllKinds publishes every event.
func WithAllKinds() PublishOption {
	return func(s *PublishSink) { s.kinds = nil }
}

// NewPublishSink wires a publisher to the sink interface.
func NewPublishSink(pub Publisher, logger *zap.Logger, opts ...PublishOption) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PublishSink{pub: pub, logger: logger}
	WithKinds(progress.KindRunStart, progress.KindRunExit, progress.KindError)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume publishes matching events in order and stops at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		if s.kinds != nil && !s.kinds[evt.Kind] {
			continue
		}
		attrs := map[string]string{
			"kind":   string(evt.Kind),
			"run_id": evt.RunUUID().String(),
		}
		if evt.Site != "" {
			attrs["site"] = evt.Site
		}
		id, err := s.pub.Publish(ctx, attrs, NewMessage(evt))
		if err != nil {
			return fmt.Errorf("publish %s: %w", evt.Kind, err)
		}
		s.logger.Debug("published crawl event", zap.String("message_id", id), zap.String("kind", string(evt.Kind)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

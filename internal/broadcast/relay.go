package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

// StatusSource is the part of the supervisor the relay reads.
type StatusSource interface {
	Status() supervisor.Snapshot
	IsRunning() bool
	Subscribe(fn func(supervisor.Snapshot)) func()
}

// StatusRelay republishes supervisor snapshots: immediately on every state
// transition and periodically so late subscribers catch up.
type StatusRelay struct {
	source    StatusSource
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

// NewStatusRelay builds a relay. A non-positive interval disables the
// periodic publish.
func NewStatusRelay(source StatusSource, publisher Publisher, interval time.Duration, logger *zap.Logger) *StatusRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusRelay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		logger:    logger.Named("status_relay"),
	}
}

// Run publishes until ctx ends.
func (r *StatusRelay) Run(ctx context.Context) error {
	unsubscribe := r.source.Subscribe(func(s supervisor.Snapshot) {
		r.Publish(ctx, s)
	})
	defer unsubscribe()

	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// IsRunning reconciles with the OS before the snapshot is taken.
			r.source.IsRunning()
			r.Publish(ctx, r.source.Status())
		}
	}
}

// Publish sends one snapshot; failures are logged.
func (r *StatusRelay) Publish(ctx context.Context, s supervisor.Snapshot) {
	if err := r.publisher.Publish(ctx, Event{Type: EventTypeStatus, Data: s}); err != nil {
		r.logger.Debug("status publish skipped", zap.Error(err))
	}
}

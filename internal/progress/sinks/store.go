package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

// StoreSink persists run lifecycle and counters via a store.RunRepository.
// Counter deltas are collapsed per run within a batch to reduce writes.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order: a run's pending counters are flushed
// before its completion is stored. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*counterDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Kind {
		case progress.KindRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.Site, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.KindRunExit:
			if err := s.flush(ctx, runID, pending[runID]); err != nil {
				return err
			}
			delete(pending, runID)
			if err := s.complete(ctx, runID, evt); err != nil {
				return err
			}
		default:
			d := pending[runID]
			if d == nil {
				d = &counterDelta{}
				pending[runID] = d
			}
			d.add(evt)
		}
	}

	for runID, d := range pending {
		if err := s.flush(ctx, runID, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flush(ctx context.Context, runID uuid.UUID, d *counterDelta) error {
	if d == nil || d.counters.IsZero() {
		return nil
	}
	if err := s.repo.AddRunCounters(ctx, runID, d.counters, d.at); err != nil {
		return fmt.Errorf("add run counters: %w", err)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunStatus(evt.Status)
	if !status.Valid() || status == store.RunRunning {
		s.logger.Warn("unexpected run outcome", zap.String("status", evt.Status))
		status = store.RunError
	}
	var note *string
	if status == store.RunError && evt.Note != "" {
		n := evt.Note
		note = &n
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type counterDelta struct {
	counters store.RunCounters
	at       time.Time
}

func (d *counterDelta) add(evt progress.Event) {
	switch evt.Kind {
	case progress.KindPageFetch:
		d.counters.Fetches++
	case progress.KindPageComplete:
		d.counters.Pages++
	case progress.KindAssetProcessed:
		d.counters.Assets++
		d.counters.Bytes += evt.Bytes
	case progress.KindError:
		d.counters.Errors++
	default:
		return
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

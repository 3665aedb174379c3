// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

// RunStore implements store.RunRepository in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.RunRecord
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.RunRecord)}
}

// UpsertRunStart records the run as running; an existing record keeps its
// counters.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, site string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.RunRecord{RunID: runID, StartedAt: startedAt}
	}
	run.Site = site
	run.Status = store.RunRunning
	run.UpdatedAt = startedAt
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished. Unknown runs return store.ErrNotFound.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ErrorMessage = copyString(errMsg)
	run.UpdatedAt = finishedAt
	s.runs[runID] = run
	return nil
}

// AddRunCounters applies delta, creating a placeholder record when counters
// arrive before the start event.
func (s *RunStore) AddRunCounters(_ context.Context, runID uuid.UUID, delta store.RunCounters, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.RunRecord{RunID: runID, StartedAt: at, Status: store.RunRunning}
	}
	run.Counters = run.Counters.Add(delta)
	run.UpdatedAt = at
	s.runs[runID] = run
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	s.mu.RLock()
	out := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID.String() > out[j].RunID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []store.RunRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run store.RunRecord) store.RunRecord {
	if run.FinishedAt != nil {
		run.FinishedAt = pointerTime(*run.FinishedAt)
	}
	run.ErrorMessage = copyString(run.ErrorMessage)
	return run
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

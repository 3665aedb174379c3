package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunStopped RunStatus = "stopped"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError, RunStopped:
		return true
	default:
		return false
	}
}

// RunCounters accumulates what a run reported.
type RunCounters struct {
	Fetches int64 `json:"fetches"`
	Pages   int64 `json:"pages"`
	Assets  int64 `json:"assets"`
	Errors  int64 `json:"errors"`
	Bytes   int64 `json:"bytes"`
}

// IsZero reports whether every counter is zero.
func (c RunCounters) IsZero() bool {
	return c == RunCounters{}
}

// Add returns the element-wise sum of c and d.
func (c RunCounters) Add(d RunCounters) RunCounters {
	return RunCounters{
		Fetches: c.Fetches + d.Fetches,
		Pages:   c.Pages + d.Pages,
		Assets:  c.Assets + d.Assets,
		Errors:  c.Errors + d.Errors,
		Bytes:   c.Bytes + d.Bytes,
	}
}

// RunRecord is one row of run history.
type RunRecord struct {
	RunID        uuid.UUID   `json:"runId"`
	Site         string      `json:"site,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	Status       RunStatus   `json:"status"`
	ErrorMessage *string     `json:"error,omitempty"`
	Counters     RunCounters `json:"counters"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// RunRepository persists run lifecycle and counters.
type RunRepository interface {
	// UpsertRunStart records a run as running. Repeated calls are idempotent.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, site string, startedAt time.Time) error
	// CompleteRun stores the terminal status and optional error text.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddRunCounters applies counter deltas.
	AddRunCounters(ctx context.Context, runID uuid.UUID, delta RunCounters, at time.Time) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

const runColumns = `run_id, site, started_at, finished_at, status, error_message,
	fetches, pages, assets, errors, bytes_total, updated_at`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	db    DB
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps db. An empty table defaults to crawl_runs.
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "crawl_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// UpsertRunStart inserts the run or marks an existing row running again.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, site string, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, site, started_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET site = EXCLUDED.site, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at;
	`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, site, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun stores the terminal status. Unknown runs return store.ErrNotFound.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3, updated_at = $1
		WHERE run_id = $4;
	`, s.table)
	tag, err := s.db.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddRunCounters increments the counters, inserting a placeholder row when
// counters arrive before the start event.
func (s *RunStore) AddRunCounters(ctx context.Context, runID uuid.UUID, delta store.RunCounters, at time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (run_id, started_at, status, fetches, pages, assets, errors, bytes_total, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $2)
		ON CONFLICT (run_id) DO UPDATE
		SET fetches = %[1]s.fetches + EXCLUDED.fetches,
			pages = %[1]s.pages + EXCLUDED.pages,
			assets = %[1]s.assets + EXCLUDED.assets,
			errors = %[1]s.errors + EXCLUDED.errors,
			bytes_total = %[1]s.bytes_total + EXCLUDED.bytes_total,
			updated_at = EXCLUDED.updated_at;
	`, s.table)
	_, err := s.db.Exec(ctx, query,
		runID, at, string(store.RunRunning),
		delta.Fetches, delta.Pages, delta.Assets, delta.Errors, delta.Bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to add run counters: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1;`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, runColumns, s.table)
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.db.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]store.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var (
		run        store.RunRecord
		status     string
		finishedAt pgtype.Timestamptz
		errMsg     pgtype.Text
	)
	err := row.Scan(
		&run.RunID,
		&run.Site,
		&run.StartedAt,
		&finishedAt,
		&status,
		&errMsg,
		&run.Counters.Fetches,
		&run.Counters.Pages,
		&run.Counters.Assets,
		&run.Counters.Errors,
		&run.Counters.Bytes,
		&run.UpdatedAt,
	)
	if err != nil {
		return store.RunRecord{}, err
	}
	run.Status = store.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	return run, nil
}

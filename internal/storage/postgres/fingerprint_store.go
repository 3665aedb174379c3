package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

// FingerprintStore implements store.FingerprintRepository using Postgres.
type FingerprintStore struct {
	db    DB
	table string
}

var _ store.FingerprintRepository = (*FingerprintStore)(nil)

// NewFingerprintStore wraps db. An empty table defaults to page_fingerprints.
func NewFingerprintStore(db DB, table string) (*FingerprintStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "page_fingerprints")
	if err != nil {
		return nil, err
	}
	return &FingerprintStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *FingerprintStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Get loads the latest fingerprint or returns store.ErrNotFound.
func (s *FingerprintStore) Get(ctx context.Context, siteID, pageURL string) (fingerprint.PageFingerprint, error) {
	query := fmt.Sprintf(`
		SELECT content_hash, file_size, word_count, heading_count, link_count, last_modified
		FROM %s
		WHERE site_id = $1 AND page_url = $2;
	`, s.table)
	var fp fingerprint.PageFingerprint
	err := s.db.QueryRow(ctx, query, siteID, pageURL).Scan(
		&fp.ContentHash,
		&fp.FileSize,
		&fp.WordCount,
		&fp.HeadingCount,
		&fp.LinkCount,
		&fp.LastModified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fingerprint.PageFingerprint{}, store.ErrNotFound
		}
		return fingerprint.PageFingerprint{}, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	fp.LastModified = fp.LastModified.UTC()
	return fp, nil
}

// Upsert supersedes the stored fingerprint.
func (s *FingerprintStore) Upsert(ctx context.Context, siteID, pageURL string, fp fingerprint.PageFingerprint) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (site_id, page_url, content_hash, file_size, word_count, heading_count, link_count, last_modified, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (site_id, page_url) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
			file_size = EXCLUDED.file_size,
			word_count = EXCLUDED.word_count,
			heading_count = EXCLUDED.heading_count,
			link_count = EXCLUDED.link_count,
			last_modified = EXCLUDED.last_modified,
			updated_at = now();
	`, s.table)
	_, err := s.db.Exec(ctx, query,
		siteID, pageURL,
		fp.ContentHash, fp.FileSize, fp.WordCount, fp.HeadingCount, fp.LinkCount, fp.LastModified,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint: %w", err)
	}
	return nil
}

package store

import (
	"context"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
)

// FingerprintRepository keeps the latest fingerprint per (site, page).
// Upsert supersedes the previous value; records are never deleted.
type FingerprintRepository interface {
	// Get returns the stored fingerprint or ErrNotFound.
	Get(ctx context.Context, siteID, pageURL string) (fingerprint.PageFingerprint, error)
	// Upsert replaces the stored fingerprint.
	Upsert(ctx context.Context, siteID, pageURL string, fp fingerprint.PageFingerprint) error
}

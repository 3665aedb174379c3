package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

type pageKey struct {
	site string
	url  string
}

// FingerprintStore implements store.FingerprintRepository in memory.
type FingerprintStore struct {
	mu   sync.RWMutex
	data map[pageKey]fingerprint.PageFingerprint
}

var _ store.FingerprintRepository = (*FingerprintStore)(nil)

// NewFingerprintStore constructs an empty FingerprintStore.
func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{data: make(map[pageKey]fingerprint.PageFingerprint)}
}

// Get returns the stored fingerprint or store.ErrNotFound.
func (s *FingerprintStore) Get(_ context.Context, siteID, pageURL string) (fingerprint.PageFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.data[pageKey{site: siteID, url: pageURL}]
	if !ok {
		return fingerprint.PageFingerprint{}, store.ErrNotFound
	}
	return fp, nil
}

// Upsert replaces the fingerprint for (siteID, pageURL).
func (s *FingerprintStore) Upsert(_ context.Context, siteID, pageURL string, fp fingerprint.PageFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[pageKey{site: siteID, url: pageURL}] = fp
	return nil
}

// Len reports how many pages are tracked.
func (s *FingerprintStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

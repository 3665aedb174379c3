// Package redis stores page fingerprints in Redis hashes, one hash per site.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "crawlsup:fp:"

const connectionTimeout = 5 * time.Second

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// FingerprintStore implements store.FingerprintRepository on Redis.
type FingerprintStore struct {
	client redis.UniversalClient
	prefix string
}

var _ store.FingerprintRepository = (*FingerprintStore)(nil)

// NewFingerprintStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewFingerprintStore(client redis.UniversalClient, prefix string) *FingerprintStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &FingerprintStore{client: client, prefix: prefix}
}

func (s *FingerprintStore) key(siteID string) string {
	return s.prefix + siteID
}

// Get returns the stored fingerprint or store.ErrNotFound.
func (s *FingerprintStore) Get(ctx context.Context, siteID, pageURL string) (fingerprint.PageFingerprint, error) {
	data, err := s.client.HGet(ctx, s.key(siteID), pageURL).Bytes()
	if errors.Is(err, redis.Nil) {
		return fingerprint.PageFingerprint{}, store.ErrNotFound
	}
	if err != nil {
		return fingerprint.PageFingerprint{}, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	var fp fingerprint.PageFingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return fingerprint.PageFingerprint{}, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	return fp, nil
}

// Upsert replaces the stored fingerprint.
func (s *FingerprintStore) Upsert(ctx context.Context, siteID, pageURL string, fp fingerprint.PageFingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(siteID), pageURL, data).Err(); err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// Count reports how many pages of siteID have a fingerprint.
func (s *FingerprintStore) Count(ctx context.Context, siteID string) (int64, error) {
	n, err := s.client.HLen(ctx, s.key(siteID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

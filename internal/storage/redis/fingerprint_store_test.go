package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

func newStore(t *testing.T) (*FingerprintStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFingerprintStore(client, "test:fp:"), mr
}

func TestFingerprintStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, mr := newStore(t)
	ctx := context.Background()

	_, err := st.Get(ctx, "acme", "https://acme.test/")
	require.ErrorIs(t, err, store.ErrNotFound)

	fp := fingerprint.PageFingerprint{
		ContentHash:  "abc",
		FileSize:     42,
		WordCount:    7,
		HeadingCount: 1,
		LinkCount:    2,
		LastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.Upsert(ctx, "acme", "https://acme.test/", fp))

	got, err := st.Get(ctx, "acme", "https://acme.test/")
	require.NoError(t, err)
	assert.Equal(t, fp, got)
	assert.True(t, mr.Exists("test:fp:acme"))

	fp.ContentHash = "def"
	require.NoError(t, st.Upsert(ctx, "acme", "https://acme.test/", fp))
	got, err = st.Get(ctx, "acme", "https://acme.test/")
	require.NoError(t, err)
	assert.Equal(t, "def", got.ContentHash)

	n, err := st.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFingerprintStoreSitesAreIsolated(t *testing.T) {
	t.Parallel()
	st, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, "acme", "https://shared.test/", fingerprint.PageFingerprint{ContentHash: "a"}))
	_, err := st.Get(ctx, "other", "https://shared.test/")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFingerprintStoreCorruptValue(t *testing.T) {
	t.Parallel()
	st, mr := newStore(t)

	mr.HSet("test:fp:acme", "https://acme.test/", "not-json")
	_, err := st.Get(context.Background(), "acme", "https://acme.test/")
	require.ErrorContains(t, err, "decode fingerprint")
}

func TestFingerprintStoreBackendDown(t *testing.T) {
	t.Parallel()
	st, mr := newStore(t)
	mr.Close()

	_, err := st.Get(context.Background(), "acme", "https://acme.test/")
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestDefaultPrefix(t *testing.T) {
	t.Parallel()
	st := NewFingerprintStore(nil, "")
	assert.Equal(t, DefaultKeyPrefix+"acme", st.key("acme"))
}

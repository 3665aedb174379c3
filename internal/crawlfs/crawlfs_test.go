package crawlfs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "acme", "b-about.md"), "# About")
	writeFile(t, filepath.Join(root, "acme", "b-about.capture.json"), `{"url":"https://acme.test/about"}`)
	writeFile(t, filepath.Join(root, "acme", "a-home.md"), "# Home")
	writeFile(t, filepath.Join(root, "acme", "a-home.capture.json"), `not json`)
	writeFile(t, filepath.Join(root, "acme", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "zenith", "index.md"), "# Zenith")
	writeFile(t, filepath.Join(root, "_aggregated", "acme.md"), "# Everything")
	return root
}

func TestNewRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := crawlfs.New("  ", nil)
	require.Error(t, err)
}

func TestListSites(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(seedTree(t), nil)
	require.NoError(t, err)

	sites, err := r.ListSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "zenith"}, sites)
}

func TestListSitesMissingRoot(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)

	sites, err := r.ListSites(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestListPages(t *testing.T) {
	t.Parallel()

	root := seedTree(t)
	r, err := crawlfs.New(root, nil)
	require.NoError(t, err)

	pages, err := r.ListPages(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "a-home.md", pages[0].File)
	assert.Equal(t, "a-home.md", pages[0].URL, "bad sidecar falls back to file name")
	assert.Equal(t, "b-about.md", pages[1].File)
	assert.Equal(t, "https://acme.test/about", pages[1].URL)
	assert.Equal(t, filepath.Join(r.Root(), "acme", "b-about.md"), pages[1].Path)

	empty, err := r.ListPages(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListPagesRejectsTraversal(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = r.ListPages(context.Background(), "../etc")
	require.ErrorIs(t, err, crawlfs.ErrInvalidPath)
	_, err = r.ListPages(context.Background(), "_aggregated")
	require.ErrorIs(t, err, crawlfs.ErrInvalidPath)
}

func TestFindPage(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(seedTree(t), nil)
	require.NoError(t, err)

	page, err := r.FindPage(context.Background(), "acme", "https://acme.test/about")
	require.NoError(t, err)
	assert.Equal(t, "b-about.md", page.File)

	_, err = r.FindPage(context.Background(), "acme", "https://acme.test/missing")
	require.True(t, errors.Is(err, crawlfs.ErrPageNotFound))
}

func TestFindPageIndexesResolvedPages(t *testing.T) {
	t.Parallel()

	root := seedTree(t)
	r, err := crawlfs.New(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.FindPage(ctx, "acme", "https://acme.test/about")
	require.NoError(t, err)

	// Indexed sidecars are not read again.
	writeFile(t, filepath.Join(root, "acme", "b-about.capture.json"), `{"url":"https://acme.test/renamed"}`)
	page, err := r.FindPage(ctx, "acme", "https://acme.test/about")
	require.NoError(t, err)
	assert.Equal(t, "b-about.md", page.File)

	writeFile(t, filepath.Join(root, "acme", "c-pricing.md"), "# Pricing")
	writeFile(t, filepath.Join(root, "acme", "c-pricing.capture.json"), `{"url":"https://acme.test/pricing"}`)
	page, err = r.FindPage(ctx, "acme", "https://acme.test/pricing")
	require.NoError(t, err, "a miss picks up new files")
	assert.Equal(t, "c-pricing.md", page.File)

	require.NoError(t, os.Remove(filepath.Join(root, "acme", "b-about.md")))
	_, err = r.FindPage(ctx, "acme", "https://acme.test/about")
	require.ErrorIs(t, err, crawlfs.ErrPageNotFound)

	_, err = r.FindPage(ctx, "../etc", "https://acme.test/about")
	require.ErrorIs(t, err, crawlfs.ErrInvalidPath)
}

func TestPage(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(seedTree(t), nil)
	require.NoError(t, err)

	page, err := r.Page(context.Background(), "acme", "b-about.md")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/about", page.URL)

	_, err = r.Page(context.Background(), "acme", "../zenith/index.md")
	require.Error(t, err)
	_, err = r.Page(context.Background(), "acme", "notes.txt")
	require.Error(t, err)
}

func TestAggregated(t *testing.T) {
	t.Parallel()

	r, err := crawlfs.New(seedTree(t), nil)
	require.NoError(t, err)

	data, err := r.Aggregated(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "# Everything", string(data))

	data, err = r.Aggregated(context.Background(), "zenith")
	require.NoError(t, err)
	assert.Nil(t, data)
}

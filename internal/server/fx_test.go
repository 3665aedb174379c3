package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/config"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "acme", "home.md"), "# Home\n\nWelcome.\n")
	writeFile(t, filepath.Join(root, "acme", "home.capture.json"), `{"url":"https://acme.test/"}`)

	t.Setenv("CRAWLSUP_CRAWL_MARKDOWN_ROOT", root)
	t.Setenv("CRAWLSUP_SUPERVISOR_LOG_DIR", t.TempDir())
	t.Setenv("CRAWLSUP_SUPERVISOR_CLEANUP_ON_START", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return &cfg
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil, zap.NewNop())
	require.Error(t, err)
}

func TestBuildServesAPI(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, app.Close(ctx))
	})

	assert.Equal(t, supervisor.StateIdle, app.Supervisor().Status().State)
	assert.Nil(t, app.scheduler, "no cron spec configured")
	assert.Empty(t, app.readinessChecks(), "memory backends need no readiness probes")

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/scrape/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap supervisor.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, supervisor.StateIdle, snap.State)

	resp, err = http.Get(srv.URL + "/v1/sites")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sites struct {
		Sites []string `json:"sites"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sites))
	assert.Equal(t, []string{"acme"}, sites.Sites)
}

func TestOpenChangeTools(t *testing.T) {
	cfg := testConfig(t)
	tools, closeTools, err := OpenChangeTools(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeTools()

	report, err := tools.Detector.DetectSite(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	require.Len(t, report.New, 1)
	assert.Equal(t, "https://acme.test/", report.New[0].PageURL)
}

func TestBuildRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fingerprints.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Build(ctx, cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis init failed")
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/config"
	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/storage/memory"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	started  []supervisor.StartOptions
	startErr error
	stopOK   bool
	running  bool
	snap     supervisor.Snapshot
}

func (f *fakeSupervisor) Start(opts supervisor.StartOptions) (supervisor.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, opts)
	if f.startErr != nil {
		return supervisor.StartResult{}, f.startErr
	}
	return supervisor.StartResult{RunID: "0192a0de-0000-7000-8000-000000000001", PID: 4242, LogPath: "logs/scrape-1.log"}, nil
}

func (f *fakeSupervisor) Stop(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopOK
}

func (f *fakeSupervisor) Status() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSupervisor) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type spyPublisher struct {
	mu    sync.Mutex
	snaps []supervisor.Snapshot
}

func (p *spyPublisher) Publish(_ context.Context, s supervisor.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

type spyCleaner struct {
	calls int
}

func (c *spyCleaner) CleanupOrphans(context.Context) {
	c.calls++
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

// seedSites lays out two pages for site acme plus an aggregate.
func seedSites(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "acme", "home.md"), "# Home\n\nGarage doors for [Acme](https://acme.test).\n")
	writeFile(t, filepath.Join(root, "acme", "home.capture.json"), `{"url":"https://acme.test/"}`)
	writeFile(t, filepath.Join(root, "acme", "about.md"), "# About\n\nFamily owned since 1982.\n")
	writeFile(t, filepath.Join(root, "acme", "about.capture.json"), `{"url":"https://acme.test/about"}`)
	writeFile(t, filepath.Join(root, "_aggregated", "acme.md"), "# Acme\n")
	return root
}

type testEnv struct {
	server  *Server
	sup     *fakeSupervisor
	pub     *spyPublisher
	cleaner *spyCleaner
	fps     *memory.FingerprintStore
	runs    *memory.RunStore
}

func newTestEnv(t *testing.T, auth config.AuthConfig) *testEnv {
	t.Helper()
	reader, err := crawlfs.New(seedSites(t), nil)
	require.NoError(t, err)
	fps := memory.NewFingerprintStore()
	detector, err := changes.NewDetector(fps, reader, fingerprint.NewEngine(nil), changes.DefaultThresholds(), nil)
	require.NoError(t, err)

	env := &testEnv{
		sup:     &fakeSupervisor{snap: supervisor.Snapshot{State: supervisor.StateIdle, LastLogLines: []string{}}},
		pub:     &spyPublisher{},
		cleaner: &spyCleaner{},
		fps:     fps,
		runs:    memory.NewRunStore(),
	}
	env.server, err = NewServer(Deps{
		Supervisor: env.sup,
		Status:     env.pub,
		Cleaner:    env.cleaner,
		Sites:      reader,
		Changes:    detector,
		Runs:       env.runs,
	}, auth, zap.NewNop())
	require.NoError(t, err)
	return env
}

func doRequestURL(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

const (
	stopTimeout    = 30 * time.Second
	cleanupTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

type startResponse struct {
	OK      bool   `json:"ok"`
	PID     int    `json:"pid,omitempty"`
	LogPath string `json:"logPath,omitempty"`
	RunID   string `json:"runId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// startScrape handles POST /v1/scrape/start. An empty body starts an
// unfiltered crawl.
func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var opts supervisor.StartOptions
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, startResponse{Error: "invalid JSON"})
		return
	}
	if err := opts.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Error: err.Error()})
		return
	}

	res, err := s.deps.Supervisor.Start(opts)
	if err != nil {
		var spawnErr *supervisor.SpawnError
		switch {
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			writeJSON(w, http.StatusConflict, startResponse{Error: "AlreadyRunning"})
		case errors.As(err, &spawnErr):
			s.logger.Error("worker spawn failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, startResponse{Error: err.Error()})
		default:
			s.logger.Error("start failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, startResponse{Error: "failed to start"})
		}
		return
	}
	writeJSON(w, http.StatusOK, startResponse{OK: true, PID: res.PID, LogPath: res.LogPath, RunID: res.RunID})
}

// stopScrape handles POST /v1/scrape/stop. ok is false when nothing ran.
func (s *Server) stopScrape(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.deps.Supervisor.Stop(ctx)})
}

// scrapeStatus handles GET /v1/scrape/status and fans the snapshot out to
// stream subscribers.
func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	s.deps.Supervisor.IsRunning()
	snap := s.deps.Supervisor.Status()
	if s.deps.Status != nil {
		s.deps.Status.Publish(r.Context(), snap)
	}
	writeJSON(w, http.StatusOK, snap)
}

// scrapeStats handles GET /v1/scrape/stats.
func (s *Server) scrapeStats(w http.ResponseWriter, _ *http.Request) {
	s.deps.Supervisor.IsRunning()
	writeJSON(w, http.StatusOK, ComputeStats(s.deps.Supervisor.Status()))
}

// cleanup handles POST /v1/scrape/cleanup. It refuses while a run is active
// because the sweep would kill the worker's own browsers.
func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cleaner == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup unavailable")
		return
	}
	if s.deps.Supervisor.IsRunning() {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "AlreadyRunning"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), cleanupTimeout)
	defer cancel()
	s.deps.Cleaner.CleanupOrphans(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Cleanup completed successfully"})
}

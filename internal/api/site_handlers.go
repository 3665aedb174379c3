package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
)

const siteTimeout = 30 * time.Second

type observeRequest struct {
	URL  string `json:"url"`
	File string `json:"file"`
}

// listSites handles GET /v1/sites.
func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sites == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl output unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), siteTimeout)
	defer cancel()
	sites, err := s.deps.Sites.ListSites(ctx)
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

// siteChanges handles GET /v1/sites/{site}/changes. The report is read-only;
// stored fingerprints are not updated.
func (s *Server) siteChanges(w http.ResponseWriter, r *http.Request) {
	if s.deps.Changes == nil {
		writeError(w, http.StatusServiceUnavailable, "change detection unavailable")
		return
	}
	site := chi.URLParam(r, "site")
	ctx, cancel := context.WithTimeout(r.Context(), siteTimeout)
	defer cancel()
	report, err := s.deps.Changes.DetectSite(ctx, site)
	if err != nil {
		if errors.Is(err, crawlfs.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("detect site failed", zap.String("site", site), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to detect changes")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// siteAggregate handles GET /v1/sites/{site}/aggregate.
func (s *Server) siteAggregate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sites == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl output unavailable")
		return
	}
	site := chi.URLParam(r, "site")
	data, err := s.deps.Sites.Aggregated(r.Context(), site)
	switch {
	case errors.Is(err, crawlfs.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("read aggregate failed", zap.String("site", site), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read aggregate")
		return
	case data == nil:
		writeError(w, http.StatusNotFound, "aggregate not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write aggregate failed", zap.Error(err))
	}
}

// observePage handles POST /v1/sites/{site}/pages/observe. The page is
// resolved by file when given, otherwise by its captured URL; the new
// fingerprint replaces the stored one when the page changed.
func (s *Server) observePage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sites == nil || s.deps.Changes == nil {
		writeError(w, http.StatusServiceUnavailable, "change detection unavailable")
		return
	}
	site := chi.URLParam(r, "site")
	var req observeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.File = strings.TrimSpace(req.File)
	if req.URL == "" && req.File == "" {
		writeError(w, http.StatusBadRequest, "url or file required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), siteTimeout)
	defer cancel()

	var (
		page crawlfs.Page
		err  error
	)
	if req.File != "" {
		page, err = s.deps.Sites.Page(ctx, site, req.File)
	} else {
		page, err = s.deps.Sites.FindPage(ctx, site, req.URL)
	}
	switch {
	case errors.Is(err, crawlfs.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, crawlfs.ErrPageNotFound):
		writeError(w, http.StatusNotFound, "page not found")
		return
	case err != nil:
		s.logger.Error("resolve page failed", zap.String("site", site), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve page")
		return
	}
	pageURL := page.URL
	if req.URL != "" {
		pageURL = req.URL
	}

	res, err := s.deps.Changes.Observe(ctx, site, pageURL, page.Path)
	if err != nil {
		s.logger.Error("observe page failed", zap.String("site", site), zap.String("url", pageURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record page")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/config"
	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
	"github.com/JakeFAU/crawl-supervisor/internal/metrics"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

const requestTimeout = 60 * time.Second

// Supervisor is the slice of supervisor.Supervisor the handlers drive.
type Supervisor interface {
	Start(opts supervisor.StartOptions) (supervisor.StartResult, error)
	Stop(ctx context.Context) bool
	Status() supervisor.Snapshot
	IsRunning() bool
}

// StatusPublisher pushes a snapshot to stream subscribers.
type StatusPublisher interface {
	Publish(ctx context.Context, s supervisor.Snapshot)
}

// OrphanCleaner sweeps leftover browser processes.
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context)
}

// Sites reads the worker's markdown output.
type Sites interface {
	ListSites(ctx context.Context) ([]string, error)
	FindPage(ctx context.Context, site, url string) (crawlfs.Page, error)
	Page(ctx context.Context, site, file string) (crawlfs.Page, error)
	Aggregated(ctx context.Context, site string) ([]byte, error)
}

// ChangeDetector compares pages with their stored fingerprints.
type ChangeDetector interface {
	DetectSite(ctx context.Context, siteID string) (changes.SiteReport, error)
	Observe(ctx context.Context, siteID, pageURL, path string) (changes.PageResult, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Only Supervisor is required;
// routes whose dependency is nil answer 503.
type Deps struct {
	Supervisor Supervisor
	Status     StatusPublisher
	Stream     http.Handler
	Cleaner    OrphanCleaner
	Sites      Sites
	Changes    ChangeDetector
	Runs       store.RunRepository
	Ready      []ReadinessCheck
}

// Server wires HTTP handlers to the supervisor and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig, logger *zap.Logger) (*Server, error) {
	if deps.Supervisor == nil {
		return nil, errors.New("api: supervisor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		// The stream is long-lived and must not sit behind the timeout.
		r.Get("/scrape/stream", s.stream)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Route("/scrape", func(r chi.Router) {
				r.Post("/start", s.startScrape)
				r.Post("/stop", s.stopScrape)
				r.Post("/cleanup", s.cleanup)
				r.Get("/status", s.scrapeStatus)
				r.Get("/stats", s.scrapeStats)
			})
			r.Route("/sites", func(r chi.Router) {
				r.Get("/", s.listSites)
				r.Route("/{site}", func(r chi.Router) {
					r.Get("/changes", s.siteChanges)
					r.Get("/aggregate", s.siteAggregate)
					r.Post("/pages/observe", s.observePage)
				})
			})
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.listRuns)
				r.Get("/{run_id}", s.getRun)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.deps.Ready {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "status stream unavailable")
		return
	}
	s.deps.Stream.ServeHTTP(w, r)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

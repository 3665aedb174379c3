// Package procreg wraps the OS process primitives the supervisor needs:
// liveness probes, graceful termination, process-tree kills, and the spawn
// attributes that put a worker in its own process group.
package procreg

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrInvalidPID is returned for non-positive process ids.
var ErrInvalidPID = errors.New("procreg: invalid pid")

// Registry is the platform process adapter. Methods are safe for concurrent
// use.
type Registry struct {
	logger         *zap.Logger
	orphanPatterns []string
}

// New returns a Registry. orphanPatterns are command-line patterns (POSIX) or
// image names (Windows) swept by CleanupOrphans.
func New(logger *zap.Logger, orphanPatterns ...string) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns := make([]string, 0, len(orphanPatterns))
	for _, p := range orphanPatterns {
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Registry{logger: logger.Named("procreg"), orphanPatterns: patterns}
}

// OrphanPatterns returns the configured sweep patterns.
func (r *Registry) OrphanPatterns() []string {
	return append([]string(nil), r.orphanPatterns...)
}

// CleanupOrphans kills processes matching the configured patterns. It is best
// effort: failures are logged and never returned.
func (r *Registry) CleanupOrphans(ctx context.Context) {
	for _, pattern := range r.orphanPatterns {
		if ctx.Err() != nil {
			return
		}
		killed, err := r.killMatching(ctx, pattern)
		switch {
		case err != nil:
			r.logger.Warn("orphan cleanup failed", zap.String("pattern", pattern), zap.Error(err))
		case killed:
			r.logger.Info("orphaned processes cleaned up", zap.String("pattern", pattern))
		}
	}
}

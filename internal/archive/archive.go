// Package archive copies finished run logs to blob storage. The local log
// file is never modified or removed.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
	"github.com/JakeFAU/crawl-supervisor/internal/storage"
)

const contentType = "text/plain; charset=utf-8"

// Archiver uploads run logs under <prefix>/<yyyy>/<mm>/<dd>/<run-id>/<file>.
type Archiver struct {
	store  storage.BlobStore
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. prefix may be empty.
func New(store storage.BlobStore, prefix string, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("archive"),
	}, nil
}

// ObjectPath returns the object name a run's log is stored under.
func (a *Archiver) ObjectPath(runID uuid.UUID, startedAt time.Time, logPath string) string {
	p := path.Join(startedAt.UTC().Format("2006/01/02"), runID.String(), filepath.Base(logPath))
	if a.prefix != "" {
		p = path.Join(a.prefix, p)
	}
	return p
}

// Archive uploads the log at logPath and returns its URI.
func (a *Archiver) Archive(ctx context.Context, runID uuid.UUID, startedAt time.Time, logPath string) (string, error) {
	// #nosec G304 -- logPath comes from the supervisor's own log directory.
	f, err := os.Open(logPath)
	if err != nil {
		return "", fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	uri, err := a.store.PutObject(ctx, a.ObjectPath(runID, startedAt, logPath), contentType, f)
	if err != nil {
		return "", fmt.Errorf("upload run log: %w", err)
	}
	a.logger.Info("run log archived", zap.String("run_id", runID.String()), zap.String("uri", uri))
	return uri, nil
}

// Sink archives a run's log when its RunExit event arrives. It learns the
// log path from the RunStart event, whose Note carries it.
type Sink struct {
	archiver *Archiver

	mu   sync.Mutex
	runs map[[16]byte]progress.Event
}

// NewSink wraps an Archiver as a progress.Sink.
func NewSink(a *Archiver) *Sink {
	return &Sink{archiver: a, runs: make(map[[16]byte]progress.Event)}
}

// Consume implements progress.Sink. Upload failures are logged, not returned,
// so one unreachable bucket does not stall the rest of the batch.
func (s *Sink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindRunStart:
			if evt.Note == "" {
				continue
			}
			s.mu.Lock()
			s.runs[evt.RunID] = evt
			s.mu.Unlock()
		case progress.KindRunExit:
			s.mu.Lock()
			start, ok := s.runs[evt.RunID]
			delete(s.runs, evt.RunID)
			s.mu.Unlock()
			if !ok {
				continue
			}
			if _, err := s.archiver.Archive(ctx, evt.RunUUID(), start.TS, start.Note); err != nil {
				s.archiver.logger.Warn("run log archive failed", zap.String("run_id", evt.RunUUID().String()), zap.Error(err))
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *Sink) Close(context.Context) error {
	return nil
}

// Package scheduler starts crawl runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/metrics"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec is a 5-field cron expression or a
// descriptor such as @hourly.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}

// Starter launches a run.
type Starter interface {
	Start(opts supervisor.StartOptions) (supervisor.StartResult, error)
}

// Scheduler fires Start on every tick of a standard 5-field cron spec. A
// tick that lands while a run is active is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	starter Starter
	opts    supervisor.StartOptions
	logger  *zap.Logger
}

// New parses spec and registers the job. It does not start the clock.
func New(spec string, starter Starter, opts supervisor.StartOptions, logger *zap.Logger) (*Scheduler, error) {
	metrics.Init()
	if starter == nil {
		return nil, fmt.Errorf("starter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	s := &Scheduler{
		spec:    spec,
		starter: starter,
		opts:    opts,
		logger:  logger,
	}
	s.cron = cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)
	id, err := s.cron.AddFunc(spec, s.Tick)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Run starts the cron clock and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduled runs enabled", zap.String("cron", s.spec), zap.Time("next", s.cron.Entry(s.entry).Next))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick starts one run now.
func (s *Scheduler) Tick() {
	res, err := s.starter.Start(s.opts)
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		metrics.ObserveScheduledRun("skipped")
		s.logger.Info("scheduled run skipped, worker already running")
	case err != nil:
		metrics.ObserveScheduledRun("failed")
		s.logger.Error("scheduled run failed to start", zap.Error(err))
	default:
		metrics.ObserveScheduledRun("started")
		s.logger.Info("scheduled run started",
			zap.String("run_id", res.RunID),
			zap.Int("pid", res.PID),
			zap.String("log_path", res.LogPath))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

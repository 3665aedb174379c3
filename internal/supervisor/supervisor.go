package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/classify"
	"github.com/JakeFAU/crawl-supervisor/internal/logbuf"
	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

const (
	defaultPython         = "python"
	defaultScript         = "crawl4ai_runner.py"
	defaultLogDir         = "logs"
	defaultGracePeriod    = 2 * time.Second
	defaultOutputDrain    = 2 * time.Second
	defaultRawBufferLines = 1000
	defaultStatusLines    = 100
	defaultStallWarning   = 10 * time.Second
)

// Config describes how the worker is launched.
type Config struct {
	// Python is the interpreter binary.
	Python string
	// Script is the worker entry point, resolved relative to WorkDir.
	Script string
	// WorkDir is the worker's working directory.
	WorkDir string
	// LogDir receives one scrape-<timestamp>.log per run.
	LogDir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// GracePeriod is how long Stop waits after SIGTERM before a tree kill.
	GracePeriod time.Duration
	// OutputDrain bounds how long output is read after the worker exits
	// while descendants still hold its pipes.
	OutputDrain time.Duration
	// RawBufferLines is the ring capacity.
	RawBufferLines int
	// StatusLines is how many lines Status exposes.
	StatusLines int
	// StallWarning is the silence after start that triggers a warning.
	StallWarning time.Duration
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = defaultPython
	}
	if c.Script == "" {
		c.Script = defaultScript
	}
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.OutputDrain <= 0 {
		c.OutputDrain = defaultOutputDrain
	}
	if c.RawBufferLines <= 0 {
		c.RawBufferLines = defaultRawBufferLines
	}
	if c.StatusLines <= 0 {
		c.StatusLines = defaultStatusLines
	}
	if c.StatusLines > c.RawBufferLines {
		c.StatusLines = c.RawBufferLines
	}
	if c.StallWarning <= 0 {
		c.StallWarning = defaultStallWarning
	}
	return c
}

// Registry is the OS process adapter (see procreg).
type Registry interface {
	IsAlive(pid int) bool
	GroupAlive(pid int) bool
	Terminate(pid int) error
	TerminateTree(pid int) error
	SysProcAttr() *syscall.SysProcAttr
}

// Classifier maps an output line to an event.
type Classifier interface {
	Classify(line string) (progress.Event, bool)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues run ids.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Supervisor) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithClassifier overrides the output classifier.
func WithClassifier(c Classifier) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithEmitter sets where classified events go.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.emitter = e
		}
	}
}

// Supervisor manages one worker at a time.
//
// Exclusivity is per Supervisor value: two Supervisors, or two service
// replicas, can each run a worker. Deployments that scale out must put an
// external lock in front of Start.
type Supervisor struct {
	cfg        Config
	registry   Registry
	classifier Classifier
	emitter    progress.Emitter
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger

	mu            sync.RWMutex
	state         State
	runID         uuid.UUID
	pid           int
	startedAt     time.Time
	endedAt       time.Time
	logPath       string
	logFile       *os.File
	lines         *logbuf.Ring
	lastErr       string
	exit          exitInfo
	opts          *StartOptions
	stopRequested bool
	done          chan struct{}
	stallWarned   atomic.Bool

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

// New builds an idle Supervisor.
func New(cfg Config, registry Registry, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	if registry == nil {
		return nil, errors.New("process registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:        cfg,
		registry:   registry,
		classifier: classify.New(),
		emitter:    progress.NopEmitter{},
		clock:      utcClock{},
		ids:        uuidV7{},
		logger:     logger.Named("supervisor"),
		state:      StateIdle,
		lines:      logbuf.New(cfg.RawBufferLines),
		listeners:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subscribe registers fn to receive a Snapshot after every state transition.
// fn runs on the goroutine that caused the transition, outside any lock, and
// must not block for long. The returned func removes the subscription.
func (s *Supervisor) Subscribe(fn func(Snapshot)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Start launches a worker. It returns ErrAlreadyRunning while a run is
// active and a *SpawnError when the worker cannot be launched; in the latter
// case the supervisor is left Errored with the cause recorded.
func (s *Supervisor) Start(opts StartOptions) (StartResult, error) {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return StartResult{}, ErrAlreadyRunning
	}

	runID, err := s.ids.NewRawID()
	if err != nil {
		s.mu.Unlock()
		return StartResult{}, &SpawnError{Op: "run id", Err: err}
	}
	now := s.clock.Now()

	if s.logFile != nil {
		_ = s.logFile.Close()
		s.logFile = nil
	}
	s.runID = runID
	s.state = StateStarting
	s.pid = 0
	s.startedAt = now
	s.endedAt = time.Time{}
	s.lines = logbuf.New(s.cfg.RawBufferLines)
	s.lastErr = ""
	s.exit = exitInfo{}
	s.opts = opts.clone()
	s.stopRequested = false
	s.stallWarned.Store(false)

	logPath, logFile, err := s.openLog(now)
	if err != nil {
		s.failStartLocked(now, err)
		s.mu.Unlock()
		s.notify()
		return StartResult{}, &SpawnError{Op: "open log", Err: err}
	}
	s.logPath = logPath
	s.logFile = logFile

	args := BuildArgs(s.cfg.Script, opts)
	cmd := exec.Command(s.cfg.Python, args...) // #nosec G204 -- interpreter and script come from operator config.
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.SysProcAttr = s.registry.SysProcAttr()
	cmd.WaitDelay = s.cfg.OutputDrain
	stdout := newLineWriter(func(line string) { s.appendLine(runID, line) })
	stderr := newLineWriter(func(line string) { s.appendLine(runID, line) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		s.logFile = nil
		s.failStartLocked(s.clock.Now(), err)
		s.mu.Unlock()
		s.logger.Error("worker spawn failed", zap.String("python", s.cfg.Python), zap.Error(err))
		s.notify()
		return StartResult{}, &SpawnError{Op: "exec", Err: err}
	}

	done := make(chan struct{})
	s.pid = cmd.Process.Pid
	s.done = done
	s.state = StateRunning
	site := strings.TrimSpace(opts.TargetFilter)
	res := StartResult{RunID: runID.String(), PID: s.pid, LogPath: logPath}
	s.mu.Unlock()

	s.logger.Info("worker started",
		zap.String("run_id", res.RunID),
		zap.Int("pid", res.PID),
		zap.String("log_path", logPath),
		zap.Strings("args", args))
	s.emitter.Emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    now,
		Kind:  progress.KindRunStart,
		Site:  site,
		Note:  logPath,
	})
	s.notify()

	go s.wait(runID, cmd, stdout, stderr, done)
	return res, nil
}

// StartResult describes a launched worker.
type StartResult struct {
	RunID   string `json:"runId"`
	PID     int    `json:"pid"`
	LogPath string `json:"logPath"`
}

// Stop terminates the active worker: SIGTERM first, then a process-tree kill
// if it is still alive after the grace period (or when ctx ends). It returns
// false without signalling anything when no run is active. A failed kill is
// logged, not retried, and the supervisor still ends Stopped.
func (s *Supervisor) Stop(ctx context.Context) bool {
	s.mu.Lock()
	if !s.state.Active() || s.pid == 0 {
		s.mu.Unlock()
		return false
	}
	runID, pid, done := s.runID, s.pid, s.done
	s.state = StateStopping
	s.stopRequested = true
	s.mu.Unlock()
	s.notify()

	log := s.logger.With(zap.String("run_id", runID.String()), zap.Int("pid", pid))
	log.Info("stopping worker", zap.Duration("grace", s.cfg.GracePeriod))
	if err := s.registry.Terminate(pid); err != nil {
		log.Warn("graceful terminate failed", zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	exited := false
	select {
	case <-done:
		exited = true
	case <-timer.C:
	case <-ctx.Done():
	}

	kill := false
	switch {
	case !exited && s.registry.IsAlive(pid):
		log.Warn("worker ignored terminate, killing process tree")
		kill = true
	case s.registry.GroupAlive(pid):
		log.Warn("worker left children behind, killing process tree")
		kill = true
	}
	if kill {
		if err := s.registry.TerminateTree(pid); err != nil {
			log.Error("process tree kill failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	changed := false
	if s.runID == runID && !s.state.Terminal() {
		s.state = StateStopped
		s.endedAt = s.clock.Now()
		s.pid = 0
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return true
}

// IsRunning reports whether the worker is alive according to the OS. When
// the OS says the process is gone but the supervisor still believes it is
// active, the supervisor moves to Stopped.
func (s *Supervisor) IsRunning() bool {
	s.mu.RLock()
	active, pid, runID := s.state.Active(), s.pid, s.runID
	s.mu.RUnlock()
	if !active || pid == 0 {
		return false
	}
	if s.registry.IsAlive(pid) {
		return true
	}

	s.mu.Lock()
	healed := false
	if s.runID == runID && s.state.Active() {
		s.state = StateStopped
		s.endedAt = s.clock.Now()
		s.pid = 0
		healed = true
	}
	s.mu.Unlock()
	if healed {
		s.logger.Warn("worker vanished, marking run stopped",
			zap.String("run_id", runID.String()), zap.Int("pid", pid))
		s.notify()
	}
	return false
}

// Status returns a consistent copy of the supervisor state and the newest
// output lines.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	snap := s.snapshotLocked()
	startedAt, active := s.startedAt, s.state.Active()
	s.mu.RUnlock()

	if active && snap.LinesSeen == 0 && s.clock.Now().Sub(startedAt) > s.cfg.StallWarning &&
		s.stallWarned.CompareAndSwap(false, true) {
		s.logger.Warn("worker has produced no output",
			zap.String("run_id", snap.RunID),
			zap.Duration("since_start", s.clock.Now().Sub(startedAt)))
	}
	return snap
}

// LogPath returns the current (or last) run's log file path.
func (s *Supervisor) LogPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logPath
}

func (s *Supervisor) snapshotLocked() Snapshot {
	snap := Snapshot{
		Running:      s.state.Active(),
		State:        s.state,
		PID:          s.pid,
		LogPath:      s.logPath,
		LastLogLines: s.lines.Last(s.cfg.StatusLines),
		LinesSeen:    s.lines.Total(),
		Error:        s.lastErr,
		ExitSignal:   s.exit.signal,
	}
	if s.runID != uuid.Nil {
		snap.RunID = s.runID.String()
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	if s.exit.code != nil {
		c := *s.exit.code
		snap.ExitCode = &c
	}
	if s.opts != nil {
		snap.Options = s.opts.clone()
	}
	return snap
}

func (s *Supervisor) appendLine(runID uuid.UUID, line string) {
	now := s.clock.Now()
	s.mu.Lock()
	if s.runID != runID {
		s.mu.Unlock()
		return
	}
	if s.logFile != nil {
		if _, err := s.logFile.WriteString(line + "\n"); err != nil {
			s.logger.Debug("run log write failed", zap.Error(err))
		}
	}
	if strings.TrimSpace(line) == "" {
		s.mu.Unlock()
		return
	}
	s.lines.Append(line)
	site := ""
	if s.opts != nil {
		site = strings.TrimSpace(s.opts.TargetFilter)
	}
	s.mu.Unlock()

	s.logger.Debug("worker output", zap.String("run_id", runID.String()), zap.String("line", line))
	evt, ok := s.classifier.Classify(line)
	if !ok {
		return
	}
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = now
	evt.Site = site
	s.emitter.Emit(evt)
}

func (s *Supervisor) wait(runID uuid.UUID, cmd *exec.Cmd, stdout, stderr *lineWriter, done chan struct{}) {
	defer close(done)

	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		s.logger.Debug("worker output pipes closed after exit", zap.String("run_id", runID.String()))
	}
	stdout.Flush()
	stderr.Flush()

	var ps processState
	if cmd.ProcessState != nil {
		ps = cmd.ProcessState
	}
	info := describeExit(ps, waitErr)
	now := s.clock.Now()

	s.mu.Lock()
	if s.runID != runID {
		s.mu.Unlock()
		return
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			s.logger.Debug("run log close failed", zap.Error(err))
		}
		s.logFile = nil
	}
	s.exit = info
	outcome := progress.RunSuccess
	switch {
	case s.stopRequested:
		outcome = progress.RunStopped
	case !info.success:
		outcome = progress.RunError
	}
	changed := false
	if !s.state.Terminal() {
		if outcome == progress.RunError {
			s.state = StateErrored
			s.lastErr = info.err
		} else {
			s.state = StateStopped
		}
		s.endedAt = now
		s.pid = 0
		changed = true
	}
	site := ""
	if s.opts != nil {
		site = strings.TrimSpace(s.opts.TargetFilter)
	}
	s.mu.Unlock()

	fields := []zap.Field{zap.String("run_id", runID.String()), zap.String("outcome", outcome)}
	if info.code != nil {
		fields = append(fields, zap.Int("exit_code", *info.code))
	}
	if info.signal != "" {
		fields = append(fields, zap.String("signal", info.signal))
	}
	if outcome == progress.RunError {
		s.logger.Warn("worker exited abnormally", append(fields, zap.String("error", info.err))...)
	} else {
		s.logger.Info("worker exited", fields...)
	}

	note := info.err
	if outcome == progress.RunStopped {
		note = "stopped on request"
		if info.signal == "killed" {
			note = "force stopped"
		}
	}
	s.emitter.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		TS:     now,
		Kind:   progress.KindRunExit,
		Site:   site,
		Status: outcome,
		Note:   note,
	})
	if changed {
		s.notify()
	}
}

// Wait blocks until the current run's worker has been reaped or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker: %w", ctx.Err())
	}
}

func (s *Supervisor) failStartLocked(now time.Time, err error) {
	s.state = StateErrored
	s.lastErr = err.Error()
	s.endedAt = now
	s.pid = 0
}

func (s *Supervisor) openLog(now time.Time) (string, *os.File, error) {
	if err := os.MkdirAll(s.cfg.LogDir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create log dir: %w", err)
	}
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	path := filepath.Join(s.cfg.LogDir, "scrape-"+stamp+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path built from config dir.
	if err != nil {
		return "", nil, fmt.Errorf("open run log: %w", err)
	}
	return path, f, nil
}

func (s *Supervisor) notify() {
	snap := s.Status()
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

type uuidV7 struct{}

func (uuidV7) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }

package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// State is the lifecycle stage of the current run.
type State string

// Run states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateErrored  State = "errored"
)

// Active reports whether a worker may be alive in this state.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrored
}

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = errors.New("supervisor: a crawl is already running")

// SpawnError reports that the worker could not be launched.
type SpawnError struct {
	Op  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker: %s: %v", e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Snapshot is a read-only copy of the supervisor state.
type Snapshot struct {
	Running      bool          `json:"running"`
	State        State         `json:"state"`
	RunID        string        `json:"runId,omitempty"`
	PID          int           `json:"pid,omitempty"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	LogPath      string        `json:"logPath,omitempty"`
	LastLogLines []string      `json:"lastLogLines"`
	LinesSeen    int64         `json:"linesSeen"`
	Error        string        `json:"error,omitempty"`
	ExitCode     *int          `json:"exitCode,omitempty"`
	ExitSignal   string        `json:"exitSignal,omitempty"`
	Options      *StartOptions `json:"options,omitempty"`
}

// exitInfo condenses how the worker ended.
type exitInfo struct {
	code    *int
	signal  string
	success bool
	err     string
}

func describeExit(ps processState, waitErr error) exitInfo {
	if ps == nil {
		msg := "worker exit status unknown"
		if waitErr != nil {
			msg = fmt.Sprintf("worker wait failed: %v", waitErr)
		}
		return exitInfo{err: msg}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal().String()
		return exitInfo{signal: sig, err: "worker terminated by signal " + sig}
	}
	code := ps.ExitCode()
	info := exitInfo{code: &code, success: ps.Success()}
	if !info.success {
		info.err = fmt.Sprintf("worker exited with code %d", code)
	}
	return info
}

// processState is the part of *os.ProcessState describeExit reads.
type processState interface {
	ExitCode() int
	Success() bool
	Sys() any
}

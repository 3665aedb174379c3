//go:build !windows

package procreg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultOrphanPatterns are the browser driver leftovers a crawl worker can
// leave behind when it dies mid-page.
var DefaultOrphanPatterns = []string{
	"playwright",
	"chrome.*--remote-debugging-port",
}

// IsAlive reports whether pid exists. A process owned by another user still
// counts as alive.
func (r *Registry) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GroupAlive reports whether any member of the process group led by pid is
// still around. The group outlives its leader while children remain.
func (r *Registry) GroupAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(-pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM to the process group led by pid, or to pid alone
// when it has no group of its own. A process that is already gone is not an
// error.
func (r *Registry) Terminate(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err == nil {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sigterm %d: %w", pid, err)
	}
	return nil
}

// TerminateTree SIGKILLs the process group led by pid, then pid itself in
// case it left the group.
func (r *Registry) TerminateTree(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	groupErr := unix.Kill(-pid, unix.SIGKILL)
	if groupErr != nil && !errors.Is(groupErr, unix.ESRCH) {
		r.logger.Debug("process group kill failed, falling back to pid")
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	if groupErr == nil {
		return nil
	}
	return fmt.Errorf("sigkill %d: %w", pid, err)
}

// SysProcAttr places the child in a new process group whose id equals its pid.
func (r *Registry) SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (r *Registry) killMatching(ctx context.Context, pattern string) (bool, error) {
	cmd := exec.CommandContext(ctx, "pkill", "-f", pattern) // #nosec G204 -- patterns come from operator config.
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("pkill -f %q: %w", pattern, err)
}

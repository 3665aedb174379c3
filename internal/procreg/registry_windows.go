//go:build windows

package procreg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for running processes.
const stillActive = 259

// taskkill exits with 128 when the target process does not exist.
const taskkillNotFound = 128

// DefaultOrphanPatterns are the browser driver images a crawl worker can
// leave behind when it dies mid-page.
var DefaultOrphanPatterns = []string{
	"playwright.exe",
	"chrome.exe",
}

// IsAlive reports whether pid is a running process. Access denied means the
// process exists but belongs to someone else.
func (r *Registry) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	defer windows.CloseHandle(h) //nolint:errcheck // handle close is best effort
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// GroupAlive reports whether pid is alive. Windows has no group liveness
// probe; Terminate and TerminateTree already walk the tree with /T.
func (r *Registry) GroupAlive(pid int) bool {
	return r.IsAlive(pid)
}

// Terminate asks pid and its descendants to close via taskkill without /F.
func (r *Registry) Terminate(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	return r.taskkill(context.Background(), "/T", "/PID", strconv.Itoa(pid))
}

// TerminateTree force-kills pid and all of its descendants.
func (r *Registry) TerminateTree(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	return r.taskkill(context.Background(), "/F", "/T", "/PID", strconv.Itoa(pid))
}

// SysProcAttr starts the child in a new process group.
func (r *Registry) SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func (r *Registry) killMatching(ctx context.Context, image string) (bool, error) {
	err := r.taskkill(ctx, "/F", "/IM", image)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) taskkill(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "taskkill", args...) // #nosec G204 -- fixed binary, generated args.
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == taskkillNotFound {
		return nil
	}
	return fmt.Errorf("taskkill %v: %w", args, err)
}

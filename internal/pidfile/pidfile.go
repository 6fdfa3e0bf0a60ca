// Package pidfile prevents duplicate capture daemons. Only one signcoach-core
// may run per user: the camera is a singleton resource and a second daemon
// would race for it.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile manages a PID file for preventing duplicate instances.
type PIDFile struct {
	path string
	pid  int
}

// New creates a PID file at path. Returns an error if a PID file already
// exists for a running process; stale files from dead processes are removed.
func New(path string) (*PIDFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if existingPID, err := strconv.Atoi(pidStr); err == nil {
			if isProcessRunning(existingPID) {
				return nil, fmt.Errorf("another instance is already running (PID %d)", existingPID)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
			}
		}
	}

	currentPID := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", currentPID)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return &PIDFile{path: path, pid: currentPID}, nil
}

// Remove deletes the PID file if it still contains our PID.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if data, err := os.ReadFile(p.path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid == p.pid {
			return os.Remove(p.path)
		}
	}
	return nil
}

// isProcessRunning checks whether a process with the given PID is alive by
// sending signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds, so probe with signal 0.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	if err == syscall.EPERM {
		// Process exists but we don't have permission to signal it.
		return true
	}
	return false
}

// Path returns the standard PID file path for a given application name.
func Path(appName string) string {
	homeDir := os.Getenv("HOME")
	return filepath.Join(homeDir, ".cache", "signcoach", appName+".pid")
}

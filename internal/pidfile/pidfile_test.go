package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestNewPIDFile(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "signcoach-core.pid")

	pf, err := New(pidPath)
	if err != nil {
		t.Fatalf("Failed to create PID file: %v", err)
	}
	defer pf.Remove()

	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		t.Fatalf("Invalid PID in file: %s", pidStr)
	}

	if pid != os.Getpid() {
		t.Errorf("PID mismatch: got %d, want %d", pid, os.Getpid())
	}
}

func TestDuplicateInstance(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "signcoach-core.pid")

	pf, err := New(pidPath)
	if err != nil {
		t.Fatalf("Failed to create first PID file: %v", err)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			t.Errorf("Failed to remove PID file: %v", err)
		}
	}()

	_, err = New(pidPath)
	if err == nil {
		t.Error("Expected error when creating duplicate PID file, got nil")
	}

	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("Expected 'already running' error, got: %v", err)
	}
}

func TestStalePIDFile(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "signcoach-core.pid")

	// A PID that almost certainly does not belong to a live process.
	stalePID := 99999
	err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)+"\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to create stale PID file: %v", err)
	}

	pf, err := New(pidPath)
	if err != nil {
		t.Fatalf("Failed to create PID file after removing stale one: %v", err)
	}
	defer pf.Remove()

	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		t.Fatalf("Invalid PID in file: %s", pidStr)
	}

	if pid != os.Getpid() {
		t.Errorf("PID mismatch after stale removal: got %d, want %d", pid, os.Getpid())
	}
}

func TestRemovePIDFile(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "signcoach-core.pid")

	pf, err := New(pidPath)
	if err != nil {
		t.Fatalf("Failed to create PID file: %v", err)
	}

	if err := pf.Remove(); err != nil {
		t.Errorf("Failed to remove PID file: %v", err)
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file still exists after removal")
	}
}

func TestRemoveOnlyOwnPID(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "signcoach-core.pid")

	pf, err := New(pidPath)
	if err != nil {
		t.Fatalf("Failed to create PID file: %v", err)
	}

	// Simulate another process having taken over the file.
	otherPID := os.Getpid() + 1
	err = os.WriteFile(pidPath, []byte(strconv.Itoa(otherPID)+"\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to overwrite PID file: %v", err)
	}

	if err := pf.Remove(); err != nil {
		t.Errorf("Remove returned error: %v", err)
	}

	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Error("PID file belonging to another process was removed")
	}
}

func TestPath(t *testing.T) {
	p := Path("signcoach-core")
	if !strings.Contains(p, filepath.Join(".cache", "signcoach")) {
		t.Errorf("Unexpected PID path: %s", p)
	}
	if !strings.HasSuffix(p, "signcoach-core.pid") {
		t.Errorf("Unexpected PID filename: %s", p)
	}
}

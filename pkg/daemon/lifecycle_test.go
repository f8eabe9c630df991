package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
)

func TestWriteAndReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "dpsync.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFileGarbage(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "dpsync.pid")
	if err := os.WriteFile(pidPath, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemon.ReadPIDFile(pidPath); err == nil {
		t.Error("Expected an error for a malformed PID file")
	}
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "dpsync.pid")

	// No PID file = not running
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID file doesn't exist")
	}

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatal(err)
	}
	if !daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected true when PID file has current process")
	}

	if err := os.WriteFile(pidPath, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID is invalid")
	}
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "dpsync.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}

	// Removing twice is fine
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Errorf("RemovePIDFile on a missing file: %v", err)
	}
}

func TestAcquirePIDLock(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "dpsync.pid")

	lock, err := daemon.AcquirePIDLock(pidPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock failed: %v", err)
	}
	if !daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected the PID file to name this process")
	}

	if _, err := daemon.AcquirePIDLock(pidPath); !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
		t.Errorf("Expected ErrDaemonAlreadyRunning, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should be gone after Release")
	}

	again, err := daemon.AcquirePIDLock(pidPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock after Release failed: %v", err)
	}
	_ = again.Release()
}

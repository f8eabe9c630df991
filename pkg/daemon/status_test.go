package daemon_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
)

func TestWriteStatusReady(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "state", daemon.StatusFileName)

	if err := daemon.WriteStatusReady(statusPath, "/run/dpsync.sock", "127.0.0.1:9465", "1.2.3"); err != nil {
		t.Fatalf("WriteStatusReady failed: %v", err)
	}

	data, err := os.ReadFile(statusPath)
	if err != nil {
		t.Fatalf("Failed to read status file: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to parse status JSON: %v", err)
	}
	if raw["status"] != "ready" {
		t.Errorf("Expected status 'ready', got %v", raw["status"])
	}
	if _, exists := raw["error"]; exists {
		t.Error("Error field should not be present in ready status")
	}

	st, err := daemon.ReadStatus(statusPath)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if st.PID != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), st.PID)
	}
	if st.Socket != "/run/dpsync.sock" || st.HTTPAddr != "127.0.0.1:9465" || st.Version != "1.2.3" {
		t.Errorf("Unexpected status contents: %+v", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestWriteStatusError(t *testing.T) {
	statusPath := daemon.StatusPath(t.TempDir())

	if err := daemon.WriteStatusError(statusPath, errors.New("bind failed")); err != nil {
		t.Fatalf("WriteStatusError failed: %v", err)
	}
	st, err := daemon.ReadStatus(statusPath)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if st.Status != daemon.StatusError {
		t.Errorf("Expected status %q, got %q", daemon.StatusError, st.Status)
	}
	if st.Error != "bind failed" {
		t.Errorf("Expected error 'bind failed', got %q", st.Error)
	}
	if st.PID != 0 {
		t.Errorf("Error status should carry no PID, got %d", st.PID)
	}

	// The temp file from the atomic write must not linger.
	if _, err := os.Stat(statusPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary status file left behind")
	}
}

func TestReadStatusMissing(t *testing.T) {
	if _, err := daemon.ReadStatus(filepath.Join(t.TempDir(), "none")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestRemoveStatus(t *testing.T) {
	statusPath := daemon.StatusPath(t.TempDir())
	if err := daemon.WriteStatusReady(statusPath, "", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := daemon.RemoveStatus(statusPath); err != nil {
		t.Fatalf("RemoveStatus failed: %v", err)
	}
	if err := daemon.RemoveStatus(statusPath); err != nil {
		t.Errorf("RemoveStatus on a missing file: %v", err)
	}
}

func TestStatusPath(t *testing.T) {
	if got := daemon.StatusPath("/var/lib/dpsync"); got != "/var/lib/dpsync/dpsyncd.status" {
		t.Errorf("StatusPath = %q", got)
	}
}

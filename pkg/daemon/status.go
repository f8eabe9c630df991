package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Startup states written to the status file.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusError    = "error"
)

// StatusFileName is the status file name inside the state directory.
const StatusFileName = "dpsyncd.status"

// StatusFile tells a launching CLI whether dpsyncd came up.
type StatusFile struct {
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Socket    string    `json:"socket,omitempty"`
	HTTPAddr  string    `json:"http_addr,omitempty"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteStatusReady records a daemon that accepts connections.
func WriteStatusReady(path, socket, httpAddr, version string) error {
	return writeStatus(path, &StatusFile{
		Status:   StatusReady,
		PID:      os.Getpid(),
		Socket:   socket,
		HTTPAddr: httpAddr,
		Version:  version,
	})
}

// WriteStatusError records a failed startup.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{Status: StatusError, Error: err.Error()})
}

// writeStatus replaces the file atomically so readers never see half a document.
func writeStatus(path string, status *StatusFile) error {
	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StatusPath returns the status file path for a state directory.
func StatusPath(stateDir string) string {
	return filepath.Join(stateDir, StatusFileName)
}

// Package daemon hosts the dpsyncd control surfaces: the gRPC service on a
// unix socket, the HTTP status and metrics feed, and the PID, status and
// lock files that let the CLI find, start and stop the daemon.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrDaemonAlreadyRunning is returned when trying to start a daemon that's already running.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// WritePIDFile writes the current process ID to a file.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsDaemonRunning checks if a daemon is running based on PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// PIDLock is the exclusive claim of one daemon instance: an flock on
// <pid path>.lock held for the daemon's lifetime plus the PID file itself.
type PIDLock struct {
	path string
	lock *flock.Flock
}

// AcquirePIDLock claims the daemon slot and writes the PID file. It fails
// with ErrDaemonAlreadyRunning while another process holds the lock.
func AcquirePIDLock(pidPath string) (*PIDLock, error) {
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(pidPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, ErrDaemonAlreadyRunning
	}
	if err := WritePIDFile(pidPath); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &PIDLock{path: pidPath, lock: lock}, nil
}

// Release removes the PID file and drops the lock.
func (l *PIDLock) Release() error {
	err := RemovePIDFile(l.path)
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

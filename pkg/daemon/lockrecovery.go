package daemon

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// RecoverFromStaleDaemon cleans up after a daemon that died without
// shutting down: its PID file, its socket and the database LOCK file.
// It returns ErrDaemonAlreadyRunning when the recorded process is alive,
// and nil when there was nothing to recover.
func RecoverFromStaleDaemon(pidPath, socketPath, dbPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // a missing or unreadable PID file leaves nothing to recover
	}
	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	log := logging.Get("daemon")
	log.Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	removeStaleDBLock(filepath.Join(dbPath, "LOCK"))
	return nil
}

// removeStaleDBLock deletes the database LOCK file unless a live process
// still holds an flock on it.
func removeStaleDBLock(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil || !ok {
		logging.Get("daemon").Warn("database lock is held, leaving it", "path", path)
		return
	}
	_ = lock.Unlock()
	_ = os.Remove(path)
}

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RotationConfig bounds the size and number of log files.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero means 10MB.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size" json:"max_size"`

	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`

	// MaxAge removes rotated files older than this. Zero disables it.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
}

// DefaultRotationConfig keeps five 10MB backups for up to 30 days.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSize: 10 << 20, MaxBackups: 5, MaxAge: 30 * 24 * time.Hour}
}

// RotatingWriter is an io.WriteCloser that renames the active file to a
// timestamped backup once it grows past MaxSize. The CLI and the daemon may
// share one file; writes are serialized across processes with a lock file.
type RotatingWriter struct {
	path string
	cfg  RotationConfig
	lock *flock.Flock

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg, lock: flock.New(path + ".lock")}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past MaxSize.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	if err := w.lock.Lock(); err == nil {
		defer func() { _ = w.lock.Unlock() }()
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	backup := w.backupName(time.Now())
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// backupName inserts a timestamp before the extension: dpsync.log becomes
// dpsync-20260102T150405.000.log.
func (w *RotatingWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)
	return fmt.Sprintf("%s-%s%s", base, t.Format("20060102T150405.000"), ext)
}

// Backups lists rotated files, newest first.
func (w *RotatingWriter) Backups() []string {
	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)
	matches, _ := filepath.Glob(base + "-*" + ext)
	slices.Sort(matches)
	slices.Reverse(matches)
	return matches
}

func (w *RotatingWriter) prune() {
	backups := w.Backups()
	cutoff := time.Time{}
	if w.cfg.MaxAge > 0 {
		cutoff = time.Now().Add(-w.cfg.MaxAge)
	}
	for i, b := range backups {
		if w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups {
			_ = os.Remove(b)
			continue
		}
		if !cutoff.IsZero() {
			if info, err := os.Stat(b); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(b)
			}
		}
	}
}

// Close syncs and closes the active file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	_ = w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}

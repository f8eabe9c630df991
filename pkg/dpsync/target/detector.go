package target

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// EventKind is the kind of detector event.
type EventKind string

// Detector event kinds.
const (
	EventAttached EventKind = "attached"
	EventDetached EventKind = "detached"
)

// Event reports that a target appeared or disappeared.
type Event struct {
	Kind   EventKind
	Target string
	Path   string
	At     time.Time
}

// DefaultPollInterval is the presence poll period. Mounts over an existing
// directory produce no filesystem notification, so polling always runs.
const DefaultPollInterval = 5 * time.Second

// Detector watches one target path and reports presence changes.
type Detector struct {
	name         string
	path         string
	requireMount bool
	interval     time.Duration
	present      func() bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithPollInterval sets the presence poll period.
func WithPollInterval(d time.Duration) DetectorOption {
	return func(det *Detector) {
		if d > 0 {
			det.interval = d
		}
	}
}

// WithRequireMount only reports the target present when its path is a
// mount point: on a different device than its parent directory.
func WithRequireMount(require bool) DetectorOption {
	return func(det *Detector) { det.requireMount = require }
}

// WithPresence replaces the presence check.
func WithPresence(fn func() bool) DetectorOption {
	return func(det *Detector) { det.present = fn }
}

// NewDetector returns a detector for the target at path.
func NewDetector(name, path string, opts ...DetectorOption) *Detector {
	d := &Detector{
		name:     name,
		path:     filepath.Clean(path),
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.present == nil {
		d.present = d.isPresent
	}
	return d
}

func (d *Detector) isPresent() bool {
	info, err := os.Stat(d.path)
	if err != nil || !info.IsDir() {
		return false
	}
	if !d.requireMount {
		return true
	}
	dev, ok := deviceID(d.path)
	parent, pok := deviceID(filepath.Dir(d.path))
	return ok && pok && dev != parent
}

// Run reports presence changes on out until ctx is done. The first check
// reports an already present target as attached. When fsnotify is not
// available the detector only polls.
func (d *Detector) Run(ctx context.Context, out chan<- Event) error {
	log := logging.Get("detector").With("target", d.name)

	var notify <-chan fsnotify.Event
	var notifyErr <-chan error
	if w, err := fsnotify.NewWatcher(); err != nil {
		log.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(d.path)); err != nil {
			log.Warn("cannot watch parent directory, polling only", "path", filepath.Dir(d.path), "error", err)
		} else {
			notify, notifyErr = w.Events, w.Errors
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	last := false
	check := func() bool {
		now := d.present()
		if now == last {
			return true
		}
		last = now
		ev := Event{Kind: EventDetached, Target: d.name, Path: d.path, At: time.Now()}
		if now {
			ev.Kind = EventAttached
		}
		log.Debug("presence changed", "kind", ev.Kind)
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !check() {
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if ev.Name == d.path || strings.HasPrefix(d.path, ev.Name+string(filepath.Separator)) {
				if !check() {
					return ctx.Err()
				}
			}
		case err, ok := <-notifyErr:
			if !ok {
				notifyErr = nil
				continue
			}
			log.Warn("watch error", "error", err)
		case <-ticker.C:
			if !check() {
				return ctx.Err()
			}
		}
	}
}

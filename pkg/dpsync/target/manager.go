// Package target tracks the availability of sync destinations: mounted
// directories and removable devices that come and go.
//
// A Manager owns one target's lifecycle:
//
//	absent -> attaching -> ready -> busy -> ready -> detaching -> absent
//	absent -> attaching -> failed -> absent
//
// Detection is decoupled from the state machine: a Detector pushes Events
// onto a channel consumed by Manager.Run.
package target

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
)

// State is a target lifecycle state.
type State string

// Target states.
const (
	StateAbsent    State = "absent"
	StateAttaching State = "attaching"
	StateReady     State = "ready"
	StateBusy      State = "busy"
	StateDetaching State = "detaching"
	StateFailed    State = "failed"
)

// BusyPolicy decides what Acquire does while another sync holds the target.
type BusyPolicy string

// Busy policies.
const (
	BusyQueue  BusyPolicy = "queue"
	BusyReject BusyPolicy = "reject"
)

// LockFile is created in the target root while a sync holds it, so two
// processes never write the same target.
const LockFile = ".dpsync.lock"

var (
	// ErrBusy is returned by Acquire under the reject policy, or when another
	// process holds the target lock.
	ErrBusy = errors.New("target is busy")

	// ErrNotReady is returned by Acquire when the target is absent or failed.
	ErrNotReady = errors.New("target is not ready")

	// ErrRemoved is the cancellation cause of a lease whose target vanished.
	ErrRemoved = errors.New("target removed")
)

// Config describes one target.
type Config struct {
	Name       string
	Path       string
	MinFree    int64
	RequiredFS []string
	BusyPolicy BusyPolicy

	// ReprobeInterval retries the readiness probe of a failed target that is
	// still present. Zero disables it.
	ReprobeInterval time.Duration
}

// Info is a point-in-time view of a target.
type Info struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	State    State     `json:"state"`
	Since    time.Time `json:"since"`
	Capacity int64     `json:"capacity"`
	Free     int64     `json:"free"`
	FSType   string    `json:"fs_type,omitempty"`
	Writable bool      `json:"writable"`
	Reason   string    `json:"reason,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber replaces the filesystem readiness probe.
func WithProber(p Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithEmitter sets where lifecycle events go.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) { m.emit = e }
}

// Manager owns the lifecycle of one target.
type Manager struct {
	cfg    Config
	prober Prober
	emit   events.Emitter

	mu      sync.Mutex
	state   State
	since   time.Time
	probe   ProbeResult
	reason  string
	lease   *Lease
	changed chan struct{}
}

// NewManager returns a manager for an absent target.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = BusyQueue
	}
	m := &Manager{
		cfg:     cfg,
		prober:  FSProbe{MinFree: cfg.MinFree, RequiredFS: cfg.RequiredFS},
		emit:    events.Discard,
		state:   StateAbsent,
		since:   time.Now(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the target name.
func (m *Manager) Name() string { return m.cfg.Name }

// Path returns the target root.
func (m *Manager) Path() string { return m.cfg.Path }

func (m *Manager) logger() *logging.Logger {
	return logging.Get("target").With("target", m.cfg.Name)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current target view.
func (m *Manager) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		Name:     m.cfg.Name,
		Path:     m.cfg.Path,
		State:    m.state,
		Since:    m.since,
		Capacity: m.probe.Capacity,
		Free:     m.probe.Free,
		FSType:   m.probe.FSType,
		Writable: m.probe.Writable,
		Reason:   m.reason,
	}
}

// Changed returns a channel closed on the next state transition.
func (m *Manager) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// setState must be called with mu held.
func (m *Manager) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.since = time.Now()
	close(m.changed)
	m.changed = make(chan struct{})

	m.logger().Debug("state changed", "from", from, "to", to)
	m.emit.Emit(events.TargetStateChanged{Target: m.cfg.Name, From: string(from), To: string(to)})
}

// Run consumes detector events until ctx is done or events is closed.
func (m *Manager) Run(ctx context.Context, in <-chan Event) error {
	var reprobe <-chan time.Time
	if m.cfg.ReprobeInterval > 0 {
		t := time.NewTicker(m.cfg.ReprobeInterval)
		defer t.Stop()
		reprobe = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			m.Handle(ctx, ev)
		case <-reprobe:
			if m.State() == StateFailed {
				m.attach(ctx)
			}
		}
	}
}

// Handle applies one detector event.
func (m *Manager) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventAttached:
		m.attach(ctx)
	case EventDetached:
		m.remove()
	}
}

// attach probes a detected target and marks it ready or failed.
func (m *Manager) attach(ctx context.Context) {
	m.mu.Lock()
	switch m.state {
	case StateAttaching, StateReady, StateBusy:
		m.mu.Unlock()
		return
	}
	m.setState(StateAttaching)
	m.mu.Unlock()

	res, err := m.prober.Probe(ctx, m.cfg.Path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAttaching {
		// Removed while probing.
		return
	}
	m.probe = res
	if err != nil {
		m.reason = err.Error()
		m.setState(StateFailed)
		m.logger().Warn("readiness probe failed", "path", m.cfg.Path, "error", err)
		m.emit.Emit(events.TargetFailed{Target: m.cfg.Name, Path: m.cfg.Path, Reason: err.Error()})
		return
	}
	m.reason = ""
	m.setState(StateReady)
	m.logger().Info("target ready", "path", m.cfg.Path, "fs", res.FSType, "free", res.Free)
	m.emit.Emit(events.TargetAttached{Target: m.cfg.Name, Path: m.cfg.Path, Capacity: res.Capacity, Free: res.Free})
}

// remove handles a detected removal. A busy target goes straight to absent
// and its lease is cancelled before remove returns.
func (m *Manager) remove() {
	m.mu.Lock()
	defer m.mu.Unlock()

	abrupt := false
	switch m.state {
	case StateAbsent:
		return
	case StateBusy:
		abrupt = true
		if m.lease != nil {
			m.lease.cancel(ErrRemoved)
			m.lease = nil
		}
		m.logger().Warn("target removed while busy")
	case StateReady:
		m.setState(StateDetaching)
	}
	m.probe = ProbeResult{}
	m.setState(StateAbsent)
	m.emit.Emit(events.TargetDetached{Target: m.cfg.Name, Path: m.cfg.Path, Abrupt: abrupt})
}

// Refresh reprobes a ready or busy target and updates its capacity figures
// without changing its state. A failing probe still updates the figures it
// measured.
func (m *Manager) Refresh(ctx context.Context) (Info, error) {
	switch st := m.State(); st {
	case StateReady, StateBusy:
	default:
		return m.Snapshot(), fmt.Errorf("%s: %w: %s", m.cfg.Name, ErrNotReady, st)
	}

	res, err := m.prober.Probe(ctx, m.cfg.Path)
	m.mu.Lock()
	if res.Capacity > 0 && (m.state == StateReady || m.state == StateBusy) {
		m.probe = res
	}
	m.mu.Unlock()
	return m.Snapshot(), err
}

// Detach ejects the target gracefully, waiting for a running sync to
// release it first.
func (m *Manager) Detach(ctx context.Context) error {
	for {
		m.mu.Lock()
		switch m.state {
		case StateBusy, StateAttaching:
			ch := m.changed
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			continue
		case StateAbsent:
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		m.remove()
		return nil
	}
}

// Acquire takes exclusive hold of a ready target. While another sync holds
// it, Acquire waits under the queue policy and fails with ErrBusy under the
// reject policy. The lease context is cancelled when ctx is, when the lease
// is released, and when the target is removed.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case StateReady:
			lock := flock.New(filepath.Join(m.cfg.Path, LockFile))
			ok, err := lock.TryLock()
			if err != nil {
				m.mu.Unlock()
				return nil, retry.New(retry.CategoryDevice, "lock target", err)
			}
			if !ok {
				m.mu.Unlock()
				return nil, fmt.Errorf("%s: %w: locked by another process", m.cfg.Name, ErrBusy)
			}
			lctx, cancel := context.WithCancelCause(ctx)
			l := &Lease{m: m, ctx: lctx, cancel: cancel, lock: lock}
			m.lease = l
			m.setState(StateBusy)
			m.mu.Unlock()
			return l, nil

		case StateBusy:
			if m.cfg.BusyPolicy == BusyReject {
				m.mu.Unlock()
				return nil, fmt.Errorf("%s: %w", m.cfg.Name, ErrBusy)
			}
			fallthrough

		case StateAttaching, StateDetaching:
			ch := m.changed
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
			}

		default:
			state, reason := m.state, m.reason
			m.mu.Unlock()
			err := retry.New(retry.CategoryDevice, "acquire "+m.cfg.Name, fmt.Errorf("%w: %s", ErrNotReady, state))
			if reason != "" {
				err.Err = fmt.Errorf("%w: %s: %s", ErrNotReady, state, reason)
			}
			return nil, err
		}
	}
}

// Lease is an exclusive hold on a target.
type Lease struct {
	m      *Manager
	ctx    context.Context
	cancel context.CancelCauseFunc
	lock   *flock.Flock
	once   sync.Once
}

// Context is cancelled when the lease ends or the target disappears.
func (l *Lease) Context() context.Context { return l.ctx }

// Err returns why the lease context ended, ErrRemoved for a removal.
func (l *Lease) Err() error { return context.Cause(l.ctx) }

// Target returns the target name.
func (l *Lease) Target() string { return l.m.cfg.Name }

// Path returns the target root.
func (l *Lease) Path() string { return l.m.cfg.Path }

// Release returns the target to ready. It is safe to call more than once
// and after the target was removed.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cancel(context.Canceled)
		_ = l.lock.Unlock()

		l.m.mu.Lock()
		defer l.m.mu.Unlock()
		if l.m.lease == l {
			l.m.lease = nil
			if l.m.state == StateBusy {
				l.m.setState(StateReady)
			}
		}
	})
}

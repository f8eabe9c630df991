// Package orchestrator drives sync cycles for one target: it lists the
// catalog of every content type bound to the target, plans a manifest
// against what the target holds, executes it while holding the target,
// and records the result.
//
// A cycle moves through idle -> planning -> transferring -> reporting ->
// idle. An aborted cycle passes through error and still returns to idle;
// failures never stop the loop.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/filter"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/planner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/scanner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/transfer"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// State is an orchestrator state.
type State string

// Orchestrator states.
const (
	StateIdle         State = "idle"
	StatePlanning     State = "planning"
	StateTransferring State = "transferring"
	StateReporting    State = "reporting"
	StateError        State = "error"
)

// Trigger reasons.
const (
	ReasonManual    = "manual"
	ReasonScheduled = "scheduled"
	ReasonAttached  = "attached"
)

var (
	// ErrRunning is returned by Start on a running orchestrator.
	ErrRunning = errors.New("orchestrator already running")

	// ErrNoManifest is returned by LastManifest before any plan succeeded.
	ErrNoManifest = errors.New("no manifest yet")
)

// Store is the persistent state the orchestrator needs.
type Store interface {
	transfer.Ledger
	transfer.ChecksumCache
	scanner.Ledger
	LookupChecksum(path string, size int64, mtime time.Time) (string, bool)
	AppendResult(r types.SyncResult, keep int) error
	History(target string, limit int) ([]types.SyncResult, error)
}

// ContentType binds a source to a directory of the target.
type ContentType struct {
	Name   string
	Source catalog.Adapter

	// LocalPath is the slash-separated directory on the target, "" for the root.
	LocalPath string

	// RemotePath restricts the catalog to ids under this prefix.
	RemotePath string

	Budget         int64
	Filters        filter.Tree
	Priorities     []filter.PriorityRule
	DeleteExtras   bool
	CategoryLimits []planner.CategoryLimit
	Wanted         []string
	MatchThreshold float64
}

// Config configures one orchestrator.
type Config struct {
	// Interval schedules cycles. Zero runs cycles only on triggers.
	Interval time.Duration

	// HistorySize bounds the stored results.
	HistorySize int

	// ManifestKeep bounds the journaled manifests.
	ManifestKeep int

	// Verify hashes local files with unknown checksums during the scan.
	Verify bool

	// MinFree is left free on the target when budgets are capped by free space.
	MinFree int64

	// Disabled stops automatic cycles; manual triggers still run.
	Disabled bool

	ContentTypes []ContentType
	Transfer     transfer.Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal keeps manifests in j.
func WithJournal(j *manifest.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithEmitter sets where events go.
func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) { o.emit = e }
}

// WithRegistry reports the breakers of reg in Status.
func WithRegistry(reg *retry.Registry) Option {
	return func(o *Orchestrator) { o.breakers = reg }
}

// WithBandwidth shares l with every transfer of the orchestrator.
func WithBandwidth(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.bandwidth = l }
}

// Status is a snapshot for dashboards and health checks.
type Status struct {
	Target     string                `json:"target"`
	State      State                 `json:"state"`
	Since      time.Time             `json:"since"`
	Enabled    bool                  `json:"enabled"`
	Running    bool                  `json:"running"`
	CycleID    string                `json:"cycle_id,omitempty"`
	Progress   transfer.Progress     `json:"progress"`
	Device     target.Info           `json:"device"`
	LastResult *types.SyncResult     `json:"last_result,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	NextRun    time.Time             `json:"next_run,omitzero"`
	Breakers   []retry.BreakerStatus `json:"breakers,omitempty"`
}

// Healthy reports whether the target syncs normally: the last cycle did
// not abort and the device did not fail its probe.
func (s Status) Healthy() bool {
	if s.State == StateError || s.Device.State == target.StateFailed {
		return false
	}
	return s.LastResult == nil || s.LastResult.Error == "" || s.LastResult.Outcome == types.OutcomeCancelled
}

// Orchestrator schedules and runs cycles for one target.
type Orchestrator struct {
	cfg       Config
	mgr       *target.Manager
	store     Store
	journal   *manifest.Journal
	emit      events.Emitter
	breakers  *retry.Registry
	bandwidth *rate.Limiter
	exec      *transfer.Executor

	trigger chan string
	cycleMu sync.Mutex

	mu       sync.Mutex
	state    State
	since    time.Time
	enabled  bool
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	cycleID  string
	next     time.Time
	last     *types.SyncResult
	lastErr  string
	manifest *manifest.Manifest
	sources  map[string]catalog.Adapter
}

// New returns a stopped orchestrator for the target managed by mgr.
func New(cfg Config, mgr *target.Manager, st Store, opts ...Option) *Orchestrator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	o := &Orchestrator{
		cfg:     cfg,
		mgr:     mgr,
		store:   st,
		emit:    events.Discard,
		trigger: make(chan string, 1),
		state:   StateIdle,
		since:   time.Now(),
		enabled: !cfg.Disabled,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.exec = transfer.New(cfg.Transfer, st, o.resolve,
		transfer.WithEmitter(o.emit),
		transfer.WithChecksumCache(st),
		transfer.WithBandwidth(o.bandwidth),
	)
	if h, err := st.History(mgr.Name(), 1); err == nil && len(h) > 0 {
		o.last = &h[0]
	}
	return o
}

// Target returns the target name.
func (o *Orchestrator) Target() string { return o.mgr.Name() }

// Manager returns the target lifecycle manager.
func (o *Orchestrator) Manager() *target.Manager { return o.mgr }

func (o *Orchestrator) logger() *logging.Logger {
	return logging.Get("orchestrator").With("target", o.mgr.Name())
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	o.state = to
	o.since = time.Now()
	o.mu.Unlock()

	o.logger().Debug("state changed", "from", from, "to", to)
	o.emit.Emit(events.StateChanged{Target: o.mgr.Name(), From: string(from), To: string(to)})
}

// Start runs the scheduling loop until Stop or ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.watchTarget(ctx)
	go o.loop(ctx, o.done)
	o.logger().Info("orchestrator started", "interval", o.cfg.Interval, "content_types", len(o.cfg.ContentTypes))
	return nil
}

// Stop cancels the loop and waits for a running cycle to abort and clean
// up its partial files. It returns early with ctx's error if ctx ends first.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	select {
	case <-done:
		o.logger().Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a cycle now. Requests made while one is pending are
// coalesced. It reports whether the request was queued.
func (o *Orchestrator) Trigger() bool {
	return o.enqueue(ReasonManual)
}

func (o *Orchestrator) enqueue(reason string) bool {
	select {
	case o.trigger <- reason:
		return true
	default:
		return false
	}
}

// SetEnabled turns automatic cycles on or off.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	changed := o.enabled != enabled
	o.enabled = enabled
	o.mu.Unlock()
	if changed {
		o.logger().Info("automatic sync toggled", "enabled", enabled)
	}
}

// Enabled reports whether automatic cycles run.
func (o *Orchestrator) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	s := Status{
		Target:    o.mgr.Name(),
		State:     o.state,
		Since:     o.since,
		Enabled:   o.enabled,
		Running:   o.running,
		CycleID:   o.cycleID,
		LastError: o.lastErr,
		NextRun:   o.next,
	}
	if o.last != nil {
		r := *o.last
		r.Operations = nil
		s.LastResult = &r
	}
	o.mu.Unlock()

	s.Device = o.mgr.Snapshot()
	if s.CycleID != "" {
		s.Progress = o.exec.Progress()
	}
	if o.breakers != nil {
		s.Breakers = o.breakers.Snapshot()
	}
	return s
}

// History returns up to limit stored results, newest first.
func (o *Orchestrator) History(limit int) ([]types.SyncResult, error) {
	return o.store.History(o.mgr.Name(), limit)
}

// LastManifest returns the most recent successfully planned manifest.
func (o *Orchestrator) LastManifest() (*manifest.Manifest, error) {
	o.mu.Lock()
	m := o.manifest
	o.mu.Unlock()
	if m != nil {
		return m, nil
	}
	if o.journal != nil {
		m, err := o.journal.Latest(o.mgr.Name())
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, manifest.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNoManifest
}

// loop runs cycles on triggers and on the schedule.
func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.next = time.Time{}
		o.mu.Unlock()
	}()

	var tick <-chan time.Time
	if o.cfg.Interval > 0 {
		t := time.NewTicker(o.cfg.Interval)
		defer t.Stop()
		tick = t.C
		o.scheduleNext()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-o.trigger:
			if reason != ReasonManual && !o.Enabled() {
				continue
			}
			o.RunCycle(ctx, reason)
		case <-tick:
			o.scheduleNext()
			if !o.Enabled() {
				continue
			}
			if o.mgr.State() == target.StateAbsent {
				o.logger().Debug("scheduled cycle skipped, target absent")
				continue
			}
			o.RunCycle(ctx, ReasonScheduled)
		}
	}
}

func (o *Orchestrator) scheduleNext() {
	o.mu.Lock()
	o.next = time.Now().Add(o.cfg.Interval)
	o.mu.Unlock()
}

// watchTarget triggers a cycle whenever the target becomes ready after
// being away.
func (o *Orchestrator) watchTarget(ctx context.Context) {
	var prev target.State
	for {
		ch := o.mgr.Changed()
		st := o.mgr.State()
		if st == target.StateReady && prev != target.StateReady && prev != target.StateBusy {
			if o.Enabled() {
				o.logger().Info("target attached, scheduling cycle")
				o.enqueue(ReasonAttached)
			}
		}
		prev = st

		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

func (o *Orchestrator) resolve(item types.CatalogItem) (catalog.Adapter, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.sources[item.ID]
	return a, ok
}

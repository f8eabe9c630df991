// Package engine assembles the sync engine from a configuration: the
// store, the manifest journal, the breaker registry, one catalog adapter
// per source and, per target, a lifecycle manager, a detector and an
// orchestrator. dpsyncd runs it; the CLI uses it for one-shot cycles when
// no daemon is running.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/metrics"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/store"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/transfer"
)

// ErrUnknownTarget is returned for a target name missing from the configuration.
var ErrUnknownTarget = errors.New("unknown target")

// StopTimeout bounds how long Run waits for running cycles to abort.
const StopTimeout = 30 * time.Second

// Target groups the parts that serve one configured target.
type Target struct {
	Config       config.TargetConfig
	Manager      *target.Manager
	Detector     *target.Detector
	Orchestrator *orchestrator.Orchestrator
}

type options struct {
	emit     events.Emitter
	prober   target.Prober
	presence func(path string) bool
}

// Option configures an Engine.
type Option func(*options)

// WithEmitter forwards every engine event to e as well.
func WithEmitter(e events.Emitter) Option {
	return func(o *options) { o.emit = e }
}

// WithProber replaces the readiness probe of every target.
func WithProber(p target.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithPresence replaces the presence check of every detector.
func WithPresence(fn func(path string) bool) Option {
	return func(o *options) { o.presence = fn }
}

// Engine is the assembled sync engine.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	journal  *manifest.Journal
	registry *retry.Registry
	bus      *events.Broadcaster
	metrics  *metrics.Collector
	emit     events.Emitter
	targets  []*Target
	byName   map[string]*Target
	started  time.Time

	mu     sync.Mutex
	runCtx context.Context
}

// New validates cfg and builds the engine. The store is opened here and
// closed by Close.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:     cfg,
		bus:     events.NewBroadcaster(),
		metrics: metrics.New(),
		byName:  make(map[string]*Target),
		started: time.Now(),
	}
	e.emit = events.Multi(e.bus, e.metrics, o.emit, events.EmitterFunc(logEvent))
	e.registry = retry.NewRegistry(cfg.Breaker, retry.WithStateChange(func(name string, from, to retry.State) {
		e.emit.Emit(events.BreakerChanged{Name: name, From: string(from), To: string(to)})
	}))

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	e.store = st

	if err := e.build(o); err != nil {
		_ = st.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(o options) error {
	journal, err := manifest.NewJournal(e.cfg.ManifestDir())
	if err != nil {
		return err
	}
	e.journal = journal

	bps, _ := e.cfg.BandwidthLimit()
	bandwidth := transfer.NewBandwidthLimiter(bps)
	policy := e.cfg.RetryPolicy()

	sources := make(map[string]catalog.Adapter, len(e.cfg.Sources))
	for _, s := range e.cfg.Sources {
		a, err := catalog.New(s, e.registry, policy)
		if err != nil {
			return err
		}
		sources[s.Name] = a
	}

	for _, tc := range e.cfg.Targets {
		minFree, _ := tc.MinFreeBytes()

		mopts := []target.Option{target.WithEmitter(e.emit)}
		if o.prober != nil {
			mopts = append(mopts, target.WithProber(o.prober))
		}
		mgr := target.NewManager(target.Config{
			Name:            tc.Name,
			Path:            tc.Path,
			MinFree:         minFree,
			RequiredFS:      tc.RequiredFS,
			BusyPolicy:      target.BusyPolicy(tc.BusyPolicy),
			ReprobeInterval: reprobeInterval(tc),
		}, mopts...)

		dopts := []target.DetectorOption{
			target.WithPollInterval(tc.PollInterval),
			target.WithRequireMount(tc.RequireMount),
		}
		if o.presence != nil {
			p := tc.Path
			dopts = append(dopts, target.WithPresence(func() bool { return o.presence(p) }))
		}

		cts, err := contentTypes(e.cfg.ContentTypesFor(tc.Name), sources)
		if err != nil {
			return err
		}
		orch := orchestrator.New(orchestrator.Config{
			Interval:     tc.Interval,
			HistorySize:  e.cfg.Daemon.HistorySize,
			ManifestKeep: e.cfg.Daemon.ManifestKeep,
			Verify:       e.cfg.Performance.Verify,
			MinFree:      minFree,
			Disabled:     !tc.IsEnabled(),
			ContentTypes: cts,
			Transfer: transfer.Config{
				MaxConcurrent:    e.cfg.Performance.MaxConcurrentTransfers,
				ProgressInterval: e.cfg.Performance.ProgressInterval,
				Policy:           policy,
			},
		}, mgr, e.store,
			orchestrator.WithJournal(journal),
			orchestrator.WithEmitter(e.emit),
			orchestrator.WithRegistry(e.registry),
			orchestrator.WithBandwidth(bandwidth),
		)

		t := &Target{
			Config:       tc,
			Manager:      mgr,
			Detector:     target.NewDetector(tc.Name, tc.Path, dopts...),
			Orchestrator: orch,
		}
		e.targets = append(e.targets, t)
		e.byName[tc.Name] = t
	}
	return nil
}

func reprobeInterval(tc config.TargetConfig) time.Duration {
	if tc.PollInterval > 0 {
		return 6 * tc.PollInterval
	}
	return 6 * config.DefaultPollInterval
}

func contentTypes(cfgs []config.ContentTypeConfig, sources map[string]catalog.Adapter) ([]orchestrator.ContentType, error) {
	out := make([]orchestrator.ContentType, 0, len(cfgs))
	for _, c := range cfgs {
		budget, err := c.Budget()
		if err != nil {
			return nil, err
		}
		limits, err := c.Limits()
		if err != nil {
			return nil, err
		}
		out = append(out, orchestrator.ContentType{
			Name:           c.Name,
			Source:         sources[c.Source],
			LocalPath:      config.CleanRelPath(c.LocalPath),
			RemotePath:     cleanRemote(c.RemotePath),
			Budget:         budget,
			Filters:        c.Filters,
			Priorities:     c.Priorities,
			DeleteExtras:   c.DeleteExtras,
			CategoryLimits: limits,
			Wanted:         c.Wanted,
			MatchThreshold: c.Threshold(),
		})
	}
	return out, nil
}

func cleanRemote(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)[1:]
}

func logEvent(ev events.Event) {
	log := logging.Get("engine")
	switch e := ev.(type) {
	case events.CycleFailed:
		if e.Notify {
			log.Error("cycle needs attention", "target", e.Target, "cycle", e.CycleID, "category", e.Category, "error", e.Error)
		}
	case events.BreakerChanged:
		log.Warn("circuit breaker changed", "name", e.Name, "from", e.From, "to", e.To)
	}
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Events returns the broadcaster every engine event passes through.
func (e *Engine) Events() *events.Broadcaster { return e.bus }

// Metrics returns the Prometheus collector fed by engine events.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Registry returns the circuit breaker registry shared by all sources.
func (e *Engine) Registry() *retry.Registry { return e.registry }

// Journal returns the manifest journal.
func (e *Engine) Journal() *manifest.Journal { return e.journal }

// StartedAt returns when the engine was built.
func (e *Engine) StartedAt() time.Time { return e.started }

// Targets returns every target in configuration order.
func (e *Engine) Targets() []*Target { return e.targets }

// Names returns the sorted target names.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.targets))
	for _, t := range e.targets {
		names = append(names, t.Config.Name)
	}
	sort.Strings(names)
	return names
}

// Target returns the named target.
func (e *Engine) Target(name string) (*Target, error) {
	t, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return t, nil
}

// Select returns the named target, or every target when name is empty.
func (e *Engine) Select(name string) ([]*Target, error) {
	if name == "" {
		return e.targets, nil
	}
	t, err := e.Target(name)
	if err != nil {
		return nil, err
	}
	return []*Target{t}, nil
}

// Statuses returns the status of the selected targets.
func (e *Engine) Statuses(name string) ([]orchestrator.Status, error) {
	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	out := make([]orchestrator.Status, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Orchestrator.Status())
	}
	return out, nil
}

// Run detects targets and runs every orchestrator until ctx is done, then
// stops the orchestrators and waits for running cycles to abort.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.runCtx = gctx
	e.mu.Unlock()

	var startErr error
	started := make([]*Target, 0, len(e.targets))
	for _, t := range e.targets {
		ch := make(chan target.Event, 4)
		g.Go(func() error { return ignoreCancel(t.Detector.Run(gctx, ch)) })
		g.Go(func() error { return ignoreCancel(t.Manager.Run(gctx, ch)) })
		if err := t.Orchestrator.Start(gctx); err != nil {
			startErr = fmt.Errorf("starting %s: %w", t.Config.Name, err)
			cancelRun()
			break
		}
		started = append(started, t)
	}
	if startErr == nil {
		logging.Get("engine").Info("engine running", "targets", len(e.targets))
	}

	<-gctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	for _, t := range started {
		if err := t.Orchestrator.Stop(stopCtx); err != nil {
			logging.Get("engine").Warn("orchestrator did not stop in time", "target", t.Config.Name, "error", err)
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return startErr
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start resumes the scheduling loop of the selected targets. It needs Run.
func (e *Engine) Start(name string) ([]string, error) {
	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		return nil, errors.New("engine is not running")
	}

	var started []string
	for _, t := range ts {
		err := t.Orchestrator.Start(ctx)
		if errors.Is(err, orchestrator.ErrRunning) {
			continue
		}
		if err != nil {
			return started, err
		}
		started = append(started, t.Config.Name)
	}
	return started, nil
}

// Stop halts the scheduling loop of the selected targets, aborting running
// cycles.
func (e *Engine) Stop(ctx context.Context, name string) ([]string, error) {
	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	var stopped []string
	for _, t := range ts {
		if !t.Orchestrator.Status().Running {
			continue
		}
		if err := t.Orchestrator.Stop(ctx); err != nil {
			return stopped, err
		}
		stopped = append(stopped, t.Config.Name)
	}
	return stopped, nil
}

// Trigger requests a cycle on the selected targets and returns those that
// accepted the request.
func (e *Engine) Trigger(name string) ([]string, error) {
	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	var queued []string
	for _, t := range ts {
		if t.Orchestrator.Trigger() {
			queued = append(queued, t.Config.Name)
		}
	}
	return queued, nil
}

// SetEnabled toggles automatic cycles on the selected targets.
func (e *Engine) SetEnabled(name string, enabled bool) ([]string, error) {
	ts, err := e.Select(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		t.Orchestrator.SetEnabled(enabled)
		names = append(names, t.Config.Name)
	}
	return names, nil
}

// Attach probes every target whose path exists and marks it ready, for
// one-shot use without detectors.
func (e *Engine) Attach(ctx context.Context) {
	for _, t := range e.targets {
		if info, err := os.Stat(t.Config.Path); err == nil && info.IsDir() {
			t.Manager.Handle(ctx, target.Event{Kind: target.EventAttached, Target: t.Config.Name, Path: t.Config.Path, At: time.Now()})
		}
	}
}

// Close releases the store and ends every event subscription.
func (e *Engine) Close() error {
	e.bus.Close()
	return e.store.Close()
}

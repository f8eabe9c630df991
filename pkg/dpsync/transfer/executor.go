// Package transfer executes a sync manifest against a held target.
//
// Fetches are written to a partial file next to the destination, verified
// against the catalog size and checksum, flushed and renamed into place, so
// a destination path never holds an incomplete file. Evictions only touch
// files recorded in the ledger.
package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var (
	// ErrSizeMismatch is returned when a fetched file has the wrong size.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrChecksumMismatch is returned when a fetched file fails verification.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsafePath is returned for item ids that would escape the target.
	ErrUnsafePath = errors.New("item path escapes target root")

	// ErrNoSource is returned when no adapter serves an item.
	ErrNoSource = errors.New("no source for item")
)

// Ledger records which files the engine synced onto a target.
type Ledger interface {
	Tracked(target, id string) (types.LocalEntry, bool, error)
	Track(target string, e types.LocalEntry) error
	Untrack(target, id string) error
}

// ChecksumCache is updated with the checksum of every verified fetch.
type ChecksumCache interface {
	PutChecksum(path string, size int64, mtime time.Time, sum string) error
	DeleteChecksum(path string) error
}

// Target is a held sync destination. *target.Lease satisfies it.
type Target interface {
	// Context is cancelled when the hold ends or the target disappears.
	Context() context.Context
	Path() string
	Target() string
}

// Resolver returns the adapter an item is fetched from.
type Resolver func(item types.CatalogItem) (catalog.Adapter, bool)

// Config tunes the executor.
type Config struct {
	// MaxConcurrent caps simultaneous transfers.
	MaxConcurrent int

	// ProgressInterval is the minimum gap between progress events of one item.
	ProgressInterval time.Duration

	// BufferSize is the copy buffer size per transfer.
	BufferSize int

	// Policy retries failed downloads.
	Policy retry.Policy
}

// Defaults.
const (
	DefaultMaxConcurrent    = 3
	DefaultProgressInterval = time.Second
	DefaultBufferSize       = 256 * 1024
)

func (c Config) normalized() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Option configures an Executor.
type Option func(*Executor)

// WithEmitter sets where item events go.
func WithEmitter(e events.Emitter) Option {
	return func(x *Executor) { x.emit = e }
}

// WithChecksumCache records verified checksums in c.
func WithChecksumCache(c ChecksumCache) Option {
	return func(x *Executor) { x.cache = c }
}

// WithBandwidth shares a byte rate limiter across every transfer of the
// executor. A nil limiter means unlimited.
func WithBandwidth(l *rate.Limiter) Option {
	return func(x *Executor) { x.bandwidth = l }
}

// NewBandwidthLimiter returns a limiter for bytesPerSecond, or nil when the
// rate is not positive.
func NewBandwidthLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, int64(DefaultBufferSize)))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Progress is a live view of a running execution.
type Progress struct {
	Active     int64 `json:"active"`
	Done       int64 `json:"done"`
	Total      int64 `json:"total"`
	Bytes      int64 `json:"bytes"`
	BytesTotal int64 `json:"bytes_total"`
}

// Executor runs manifests.
type Executor struct {
	cfg       Config
	ledger    Ledger
	resolve   Resolver
	cache     ChecksumCache
	emit      events.Emitter
	bandwidth *rate.Limiter

	active     atomic.Int64
	done       atomic.Int64
	total      atomic.Int64
	bytes      atomic.Int64
	bytesTotal atomic.Int64
}

// New returns an executor.
func New(cfg Config, ledger Ledger, resolve Resolver, opts ...Option) *Executor {
	x := &Executor{
		cfg:     cfg.normalized(),
		ledger:  ledger,
		resolve: resolve,
		emit:    events.Discard,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Progress returns counters of the current or last execution.
func (x *Executor) Progress() Progress {
	return Progress{
		Active:     x.active.Load(),
		Done:       x.done.Load(),
		Total:      x.total.Load(),
		Bytes:      x.bytes.Load(),
		BytesTotal: x.bytesTotal.Load(),
	}
}

// run carries the state of one Execute call.
type run struct {
	x      *Executor
	t      Target
	cycle  string
	target string

	mu  sync.Mutex
	res types.SyncResult
}

// Execute runs every fetch and evict of m on t and returns the result.
// Evictions run before fetches so freed space is available. Execution stops
// when ctx is done or the target hold ends; items interrupted that way are
// failed and leave no partial file behind.
func (x *Executor) Execute(ctx context.Context, m *manifest.Manifest, t Target) types.SyncResult {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(t.Context(), func() { cancel(context.Cause(t.Context())) })
	defer stop()

	r := &run{x: x, t: t, cycle: m.ID, target: t.Target()}
	r.res = types.SyncResult{
		ID:        m.ID,
		Target:    t.Target(),
		StartedAt: time.Now(),
		Planned:   len(m.Entries),
	}

	log := logging.Get("transfer").With("target", r.target, "cycle", m.ID)

	var evicts, fetches []int
	r.res.Operations = make([]types.TransferOperation, 0, len(m.Entries))
	opIndex := make(map[int]int, len(m.Entries))
	var fetchBytes int64
	for i, e := range m.Entries {
		switch e.Action {
		case manifest.ActionKeep:
			r.keep(e)
			continue
		case manifest.ActionEvict:
			evicts = append(evicts, i)
		case manifest.ActionFetch:
			fetches = append(fetches, i)
			fetchBytes += e.Item.Size
		}
		opIndex[i] = len(r.res.Operations)
		r.res.Operations = append(r.res.Operations, newOperation(t.Path(), e))
	}

	x.active.Store(0)
	x.done.Store(0)
	x.total.Store(int64(len(evicts) + len(fetches)))
	x.bytes.Store(0)
	x.bytesTotal.Store(fetchBytes)

	log.Info("executing manifest", "fetch", len(fetches), "evict", len(evicts), "bytes", types.FormatSize(fetchBytes))

	for _, phase := range [][]int{evicts, fetches} {
		g := new(errgroup.Group)
		g.SetLimit(x.cfg.MaxConcurrent)
		for _, i := range phase {
			if ctx.Err() != nil {
				break
			}
			e, op := m.Entries[i], opIndex[i]
			g.Go(func() error {
				x.active.Add(1)
				defer x.active.Add(-1)
				defer x.done.Add(1)
				if e.Action == manifest.ActionEvict {
					r.evict(ctx, e, op)
				} else {
					r.fetch(ctx, e, op)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	res := r.res
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	res.Outcome = outcome(ctx, res)
	if res.Outcome == types.OutcomeCancelled {
		res.Error = context.Cause(ctx).Error()
	}

	log.Info("manifest executed", "outcome", res.Outcome, "fetched", res.Fetched, "evicted", res.Evicted,
		"kept", res.Kept, "skipped", res.Skipped, "failed", res.Failed, "bytes", types.FormatSize(res.BytesMoved))
	return res
}

func outcome(ctx context.Context, res types.SyncResult) types.Outcome {
	switch {
	case ctx.Err() != nil:
		return types.OutcomeCancelled
	case res.Failed == 0:
		return types.OutcomeCompleted
	case res.Fetched+res.Evicted > 0:
		return types.OutcomePartial
	default:
		return types.OutcomeFailed
	}
}

func newOperation(root string, e manifest.Entry) types.TransferOperation {
	op := types.TransferOperation{
		ItemID:       e.Item.ID,
		Source:       e.Item.Remote,
		ExpectedSize: e.Item.Size,
		Checksum:     e.Item.Checksum,
		Status:       types.TransferPending,
	}
	if dest, err := destination(root, e.Item.ID); err == nil {
		op.Destination = dest
	}
	if e.Action == manifest.ActionEvict {
		op.Source = ""
		if e.Local != nil {
			op.ExpectedSize = e.Local.Size
		}
	}
	return op
}

// keep counts a keep entry and adopts untracked content whose checksum
// matches the catalog into the ledger.
func (r *run) keep(e manifest.Entry) {
	r.res.Kept++
	r.res.Processed++

	le := e.Local
	if le == nil || le.Tracked || le.Checksum == "" || le.Checksum != e.Item.Checksum {
		return
	}
	adopted := *le
	adopted.Tracked = true
	if adopted.SyncedAt.IsZero() {
		adopted.SyncedAt = time.Now()
	}
	if err := r.x.ledger.Track(r.target, adopted); err != nil {
		logging.Get("transfer").Warn("cannot adopt verified file", "target", r.target, "item", le.ID, "error", err)
	}
}

func (r *run) setStatus(op int, status types.TransferStatus) {
	r.mu.Lock()
	r.res.Operations[op].Status = status
	r.mu.Unlock()
}

func (r *run) setTransferred(op int, n int64) {
	r.mu.Lock()
	r.res.Operations[op].Transferred = n
	r.mu.Unlock()
}

func (r *run) fail(op int, e manifest.Entry, err error) {
	category := retry.CategoryOf(err)

	r.mu.Lock()
	r.res.Processed++
	r.res.Operations[op].Status = types.TransferFailed
	r.res.Operations[op].Error = err.Error()
	r.res.AddError(e.Item.ID, category, err)
	r.mu.Unlock()

	logging.Get("transfer").Warn("item failed", "target", r.target, "item", e.Item.ID,
		"action", e.Action, "category", category, "error", err)
	r.x.emit.Emit(events.ItemFailed{
		Target: r.target, CycleID: r.cycle, ItemID: e.Item.ID, Category: category, Error: err.Error(),
	})
}

func (r *run) complete(op int, e manifest.Entry, bytes int64) {
	r.mu.Lock()
	r.res.Processed++
	r.res.Operations[op].Status = types.TransferCompleted
	switch e.Action {
	case manifest.ActionFetch:
		r.res.Fetched++
		r.res.BytesMoved += bytes
		r.res.Operations[op].Transferred = bytes
	case manifest.ActionEvict:
		r.res.Evicted++
	}
	r.mu.Unlock()

	r.x.emit.Emit(events.ItemCompleted{
		Target: r.target, CycleID: r.cycle, ItemID: e.Item.ID, Action: string(e.Action), Bytes: bytes,
	})
}

func (r *run) skip(op int, note string) {
	r.mu.Lock()
	r.res.Processed++
	r.res.Skipped++
	r.res.Operations[op].Status = types.TransferCompleted
	r.res.Operations[op].Error = note
	r.mu.Unlock()
}

// interrupted returns the cause of cancellation, wrapped so it is
// classified as a device error when the target went away.
func interrupted(ctx context.Context, op string) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return retry.New(retry.CategoryDevice, op, cause)
}

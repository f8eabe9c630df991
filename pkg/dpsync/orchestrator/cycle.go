package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/planner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/scanner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// plan is a manifest and the adapters its fetches read from.
type plan struct {
	manifest *manifest.Manifest
	sources  map[string]catalog.Adapter
}

// RunCycle runs one cycle now and returns its result. Cycles of one
// orchestrator never overlap; a second call waits for the first.
func (o *Orchestrator) RunCycle(ctx context.Context, reason string) types.SyncResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	id := manifest.NewID()
	started := time.Now()
	o.mu.Lock()
	o.cycleID = id
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cycleID = ""
		o.sources = nil
		o.mu.Unlock()
	}()

	log := o.logger().With("cycle", id)
	log.Info("cycle started", "reason", reason)
	o.emit.Emit(events.CycleStarted{Target: o.mgr.Name(), CycleID: id, Reason: reason})
	o.setState(StatePlanning)

	lease, err := o.mgr.Acquire(ctx)
	if err != nil {
		return o.abort(ctx, id, started, fmt.Errorf("acquiring target: %w", err))
	}
	defer lease.Release()

	p, err := o.build(lease.Context(), id, lease.Path(), true)
	if err != nil {
		if lease.Context().Err() != nil && ctx.Err() == nil {
			err = retry.New(retry.CategoryDevice, "plan", context.Cause(lease.Context()))
		}
		return o.abort(ctx, id, started, err)
	}

	o.mu.Lock()
	o.manifest = p.manifest
	o.sources = p.sources
	o.mu.Unlock()
	o.journalSave(p.manifest)

	sum := p.manifest.Summary()
	log.Info("manifest planned", "keep", sum.Keep, "fetch", sum.Fetch, "evict", sum.Evict,
		"rejected", sum.Rejected, "fetch_bytes", types.FormatSize(sum.FetchBytes))

	o.setState(StateTransferring)
	res := o.exec.Execute(ctx, p.manifest, lease)
	res.StartedAt = started
	res.Duration = res.FinishedAt.Sub(started)

	o.setState(StateReporting)
	o.report(res)
	o.setState(StateIdle)
	return res
}

// Plan builds a manifest for the target as it is now without changing
// anything. The target must be ready or busy.
func (o *Orchestrator) Plan(ctx context.Context) (*manifest.Manifest, error) {
	switch st := o.mgr.State(); st {
	case target.StateReady, target.StateBusy:
	default:
		return nil, fmt.Errorf("%s: %w: %s", o.mgr.Name(), target.ErrNotReady, st)
	}
	p, err := o.build(ctx, manifest.NewID(), o.mgr.Path(), false)
	if err != nil {
		return nil, err
	}
	return p.manifest, nil
}

// build scans the target and plans every content type into one manifest.
// When clean is set, leftover partial files and ledger entries of files
// that are gone are dropped first.
func (o *Orchestrator) build(ctx context.Context, id, root string, clean bool) (*plan, error) {
	name := o.mgr.Name()
	log := o.logger().With("cycle", id)

	info, err := o.mgr.Refresh(ctx)
	if err != nil {
		log.Debug("refreshing capacity failed", "error", err)
	}
	free := int64(-1)
	if info.Capacity > 0 {
		free = max(info.Free-o.cfg.MinFree, 0)
	}

	scan, err := scanner.New(scanner.Options{
		Target: name,
		Root:   root,
		Ledger: o.store,
		Cache:  o.store,
		Verify: o.cfg.Verify,
	}).Scan(ctx)
	if err != nil {
		return nil, retry.New(retry.CategoryFilesystem, "scan "+root, err)
	}
	if clean {
		if n := scanner.RemovePartials(scan.Partials); n > 0 {
			log.Info("removed stale partial files", "count", n)
		}
		for _, missing := range scan.Missing {
			if err := o.store.Untrack(name, missing); err != nil {
				log.Warn("dropping missing file from ledger failed", "id", missing, "error", err)
			}
		}
	}

	scopes := make([]scope, len(o.cfg.ContentTypes))
	local := make([][]types.LocalEntry, len(scopes))
	for i, ct := range o.cfg.ContentTypes {
		scopes[i] = scope{ct: ct}
	}
	for _, e := range scan.Entries {
		if i, ok := owner(scopes, e.ID); ok {
			local[i] = append(local[i], e)
		}
	}

	m := &manifest.Manifest{
		ID:        id,
		Target:    name,
		CreatedAt: time.Now(),
		Entries:   []manifest.Entry{},
		Rejected:  []manifest.Rejection{},
	}
	sources := make(map[string]catalog.Adapter)

	for i, s := range scopes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := s.list(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", s.ct.Name, err)
		}
		listed := make(map[string]bool, len(items))
		for _, item := range items {
			listed[item.ID] = true
		}

		var entries []types.LocalEntry
		var used int64
		for _, e := range local[i] {
			if e.Tracked || listed[e.ID] {
				entries = append(entries, e)
				used += e.Size
			}
		}

		budget := s.ct.Budget
		if free >= 0 {
			budget = min(budget, used+free)
		}

		sub := planner.Plan(planner.Input{
			Target:         name,
			Catalog:        items,
			Local:          entries,
			Filters:        s.ct.Filters,
			Priorities:     s.ct.Priorities,
			Budget:         budget,
			DeleteExtras:   s.ct.DeleteExtras,
			CategoryLimits: s.ct.CategoryLimits,
			Wanted:         s.ct.Wanted,
			MatchThreshold: s.ct.MatchThreshold,
		})

		sum := sub.Summary()
		if free >= 0 {
			free = max(free-sum.FetchBytes+sum.EvictBytes, 0)
		}
		log.Debug("content type planned", "content_type", s.ct.Name, "catalog", len(items),
			"local", len(entries), "budget", types.FormatSize(budget), "fetch", sum.Fetch, "evict", sum.Evict)

		adapter := s.adapter()
		for _, e := range sub.Entries {
			if e.Action == manifest.ActionFetch {
				sources[e.Item.ID] = adapter
			}
		}
		m.Budget += sub.Budget
		m.PlannedSize += sub.PlannedSize
		m.Entries = append(m.Entries, sub.Entries...)
		m.Rejected = append(m.Rejected, sub.Rejected...)
		m.Filtered += sub.Filtered
		m.Unresolved = append(m.Unresolved, sub.Unresolved...)
		m.Overcommitted = m.Overcommitted || sub.Overcommitted
	}
	return &plan{manifest: m, sources: sources}, nil
}

// abort closes a cycle that could not reach the transfer phase.
func (o *Orchestrator) abort(ctx context.Context, id string, started time.Time, err error) types.SyncResult {
	now := time.Now()
	res := types.SyncResult{
		ID:         id,
		Target:     o.mgr.Name(),
		StartedAt:  started,
		FinishedAt: now,
		Duration:   now.Sub(started),
		Outcome:    types.OutcomeFailed,
		Error:      err.Error(),
	}
	if ctx.Err() != nil {
		res.Outcome = types.OutcomeCancelled
	}

	classified := retry.Classify(err)
	notify := classified != nil && classified.Notify()
	o.logger().Error("cycle aborted", "cycle", id, "category", classified.Category, "error", err)

	o.setState(StateError)
	o.record(res)
	o.emit.Emit(events.CycleFailed{
		Target:   o.mgr.Name(),
		CycleID:  id,
		Category: string(classified.Category),
		Error:    err.Error(),
		Notify:   notify,
	})
	o.setState(StateIdle)
	return res
}

// report stores and announces the result of an executed cycle.
func (o *Orchestrator) report(res types.SyncResult) {
	log := o.logger().With("cycle", res.ID)
	o.record(res)

	if res.Outcome == types.OutcomeCancelled {
		log.Warn("cycle cancelled", "error", res.Error)
		o.emit.Emit(events.CycleFailed{
			Target:   res.Target,
			CycleID:  res.ID,
			Category: retry.CategoryOf(errors.New(res.Error)),
			Error:    res.Error,
		})
		return
	}

	log.Info("cycle finished", "outcome", res.Outcome, "fetched", res.Fetched, "evicted", res.Evicted,
		"failed", res.Failed, "bytes", types.FormatSize(res.BytesMoved), "duration", res.Duration.Round(time.Millisecond))
	o.emit.Emit(events.CycleCompleted{
		Target:     res.Target,
		CycleID:    res.ID,
		Fetched:    res.Fetched,
		Evicted:    res.Evicted,
		Failed:     res.Failed,
		BytesMoved: res.BytesMoved,
		Duration:   res.Duration,
	})
}

func (o *Orchestrator) record(res types.SyncResult) {
	if err := o.store.AppendResult(res, o.cfg.HistorySize); err != nil {
		o.logger().Warn("storing cycle result failed", "cycle", res.ID, "error", err)
	}
	o.mu.Lock()
	o.last = &res
	o.lastErr = res.Error
	o.mu.Unlock()
}

func (o *Orchestrator) journalSave(m *manifest.Manifest) {
	if o.journal == nil {
		return
	}
	log := o.logger()
	if err := o.journal.Save(m); err != nil {
		log.Warn("saving manifest failed", "manifest", m.ID, "error", err)
		return
	}
	if o.cfg.ManifestKeep > 0 {
		if _, err := o.journal.Prune(m.Target, o.cfg.ManifestKeep); err != nil {
			log.Warn("pruning manifests failed", "error", err)
		}
	}
}

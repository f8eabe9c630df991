// Package planner turns a catalog snapshot and the current contents of a
// target into a budgeted manifest.
//
// Planning is a single synchronous greedy pass: candidates are filtered,
// ranked by priority (catalog order breaks ties), trimmed by per-category
// limits, and then accepted in rank order while they fit the byte budget.
// Items that do not fit are skipped and later, smaller candidates are still
// considered. There is no backtracking, so identical inputs always produce
// an identical manifest.
package planner

import (
	"slices"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/filter"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/matcher"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// CategoryLimit caps how much of one attribute value (for example one
// series or one genre) may be selected.
type CategoryLimit struct {
	Attribute string `mapstructure:"attribute" yaml:"attribute" json:"attribute"`
	MaxItems  int    `mapstructure:"max_items" yaml:"max_items" json:"max_items,omitempty"`
	MaxBytes  int64  `mapstructure:"max_bytes" yaml:"max_bytes" json:"max_bytes,omitempty"`
}

// Input is everything a plan depends on.
type Input struct {
	Target     string
	Catalog    []types.CatalogItem
	Local      []types.LocalEntry
	Filters    filter.Tree
	Priorities []filter.PriorityRule
	Budget     int64

	// DeleteExtras allows evicting tracked content that is no longer in the
	// catalog. When false such content is kept and charged to the budget.
	DeleteExtras bool

	CategoryLimits []CategoryLimit

	// Wanted lists display names that must be considered before anything
	// else. They are resolved against the catalog with the matcher and
	// bypass the filter rules.
	Wanted         []string
	MatchThreshold float64
}

type candidate struct {
	filter.Ranked
	pinned bool
}

// Plan builds the manifest for in. It never fails: impossible budgets
// produce a manifest without fetches.
func Plan(in Input) *manifest.Manifest {
	budget := max(in.Budget, 0)
	m := &manifest.Manifest{
		Target:   in.Target,
		Budget:   budget,
		Entries:  []manifest.Entry{},
		Rejected: []manifest.Rejection{},
	}

	catalog := dedupe(in.Catalog)
	byID := make(map[string]types.CatalogItem, len(catalog))
	for _, item := range catalog {
		byID[item.ID] = item
	}
	local := make(map[string]types.LocalEntry, len(in.Local))
	localOrder := make([]types.LocalEntry, 0, len(in.Local))
	for _, e := range in.Local {
		if _, dup := local[e.ID]; dup {
			continue
		}
		local[e.ID] = e
		localOrder = append(localOrder, e)
	}

	pinned := map[string]bool{}
	if len(in.Wanted) > 0 {
		resolved, unresolved := matcher.Reconcile(in.Wanted, catalog, in.MatchThreshold)
		for _, item := range resolved {
			pinned[item.ID] = true
		}
		m.Unresolved = unresolved
	}

	// 1. Filter. A negative size cannot be charged to the budget.
	var passing []types.CatalogItem
	for _, item := range catalog {
		if item.Size < 0 {
			m.Rejected = append(m.Rejected, manifest.Rejection{Item: item, Reason: manifest.ReasonInvalidSize})
			continue
		}
		if pinned[item.ID] || filter.Evaluate(item, in.Filters) {
			passing = append(passing, item)
			continue
		}
		m.Filtered++
	}

	// 2. Rank, pinned items first.
	ranked := rank(passing, in.Priorities, pinned)

	// 3. Per-category limits, applied before the budget pass.
	ranked, limited := applyCategoryLimits(ranked, in.CategoryLimits)
	rejectReason := make(map[string]string)
	for _, c := range limited {
		m.Rejected = append(m.Rejected, manifest.Rejection{Item: c.Item, Reason: manifest.ReasonCategoryLimit, Score: c.Score})
		rejectReason[c.Item.ID] = manifest.ReasonCategoryLimit
	}

	// Orphans: tracked content the catalog no longer lists.
	var orphanBytes int64
	var orphanEntries []manifest.Entry
	for _, e := range localOrder {
		if _, ok := byID[e.ID]; ok {
			continue
		}
		le := e
		item := types.CatalogItem{ID: e.ID, Name: e.ID, Size: e.Size, Checksum: e.Checksum}
		if in.DeleteExtras {
			orphanEntries = append(orphanEntries, manifest.Entry{Item: item, Action: manifest.ActionEvict, Reason: manifest.ReasonOrphaned, Local: &le})
			continue
		}
		orphanBytes += max(e.Size, 0)
		orphanEntries = append(orphanEntries, manifest.Entry{Item: item, Action: manifest.ActionKeep, Reason: manifest.ReasonOrphanKept, Local: &le})
	}

	available := budget - orphanBytes
	if available < 0 {
		m.Overcommitted = true
		available = 0
	}

	// 4. Greedy budget pass.
	var used int64
	accepted := make(map[string]bool, len(ranked))
	for _, c := range ranked {
		item := c.Item
		if item.Size > available-used {
			m.Rejected = append(m.Rejected, manifest.Rejection{Item: item, Reason: manifest.ReasonOverBudget, Score: c.Score})
			rejectReason[item.ID] = manifest.ReasonOverBudget
			continue
		}
		used += item.Size
		accepted[item.ID] = true

		entry := manifest.Entry{Item: item, Score: c.Score, Action: manifest.ActionFetch, Reason: manifest.ReasonSelected}
		if le, ok := local[item.ID]; ok {
			entry.Local = &le
			if matches(item, le) {
				entry.Action = manifest.ActionKeep
				entry.Reason = manifest.ReasonPresent
			} else {
				entry.Reason = manifest.ReasonChecksumMismatch
			}
		}
		m.Entries = append(m.Entries, entry)
	}
	m.PlannedSize = used + orphanBytes

	m.Entries = append(m.Entries, orphanEntries...)

	// 5. Tracked catalog items that were not accepted make room.
	for _, e := range localOrder {
		item, ok := byID[e.ID]
		if !ok || accepted[e.ID] {
			continue
		}
		le := e
		reason := rejectReason[e.ID]
		if item.Size < 0 {
			reason = manifest.ReasonInvalidSize
		}
		if reason == "" {
			reason = manifest.ReasonFilteredOut
		}
		m.Entries = append(m.Entries, manifest.Entry{Item: item, Action: manifest.ActionEvict, Reason: reason, Local: &le})
	}

	return m
}

// matches reports whether local content can stand in for item: checksums
// must agree when both are known, sizes must agree otherwise.
func matches(item types.CatalogItem, le types.LocalEntry) bool {
	if item.Checksum != "" && le.Checksum != "" {
		return strings.EqualFold(item.Checksum, le.Checksum)
	}
	return item.Size == le.Size
}

func dedupe(items []types.CatalogItem) []types.CatalogItem {
	seen := make(map[string]bool, len(items))
	out := make([]types.CatalogItem, 0, len(items))
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}

func rank(items []types.CatalogItem, rules []filter.PriorityRule, pinned map[string]bool) []candidate {
	ranked := filter.Rank(items, rules)
	out := make([]candidate, len(ranked))
	for i, r := range ranked {
		out[i] = candidate{Ranked: r, pinned: pinned[r.Item.ID]}
	}
	slices.SortStableFunc(out, func(a, b candidate) int {
		switch {
		case a.pinned && !b.pinned:
			return -1
		case !a.pinned && b.pinned:
			return 1
		}
		return 0
	})
	return out
}

type usage struct {
	items int
	bytes int64
}

// applyCategoryLimits walks candidates in rank order and drops those that
// would exceed a limit for their category value. Items missing the limited
// attribute are not constrained by it.
func applyCategoryLimits(ranked []candidate, limits []CategoryLimit) (kept, dropped []candidate) {
	if len(limits) == 0 {
		return ranked, nil
	}
	used := make([]map[string]*usage, len(limits))
	for i := range used {
		used[i] = map[string]*usage{}
	}

	for _, c := range ranked {
		ok := true
		for i, lim := range limits {
			value, present := c.Item.Attr(lim.Attribute)
			if !present {
				continue
			}
			var u usage
			if cur := used[i][strings.ToLower(value)]; cur != nil {
				u = *cur
			}
			if lim.MaxItems > 0 && u.items+1 > lim.MaxItems {
				ok = false
			}
			if lim.MaxBytes > 0 && u.bytes+c.Item.Size > lim.MaxBytes {
				ok = false
			}
		}
		if ok {
			for i, lim := range limits {
				if lim.MaxItems <= 0 && lim.MaxBytes <= 0 {
					continue
				}
				value, present := c.Item.Attr(lim.Attribute)
				if !present {
					continue
				}
				key := strings.ToLower(value)
				if used[i][key] == nil {
					used[i][key] = &usage{}
				}
				used[i][key].items++
				used[i][key].bytes += c.Item.Size
			}
		}
		if !ok {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}

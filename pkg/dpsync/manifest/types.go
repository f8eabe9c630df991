// Package manifest defines the per-cycle sync manifest (the ordered keep,
// fetch and evict plan) and a file journal that keeps recent manifests
// readable by other processes.
package manifest

import (
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Action is what the executor does with one entry.
type Action string

// Actions.
const (
	ActionKeep  Action = "keep"
	ActionFetch Action = "fetch"
	ActionEvict Action = "evict"
)

// Reasons attached to entries.
const (
	ReasonSelected         = "selected"
	ReasonPresent          = "already present"
	ReasonChecksumMismatch = "checksum mismatch"
	ReasonNotSelected      = "not selected"
	ReasonOverBudget       = "over budget"
	ReasonCategoryLimit    = "category limit"
	ReasonFilteredOut      = "filtered out"
	ReasonOrphaned         = "orphaned"
	ReasonOrphanKept       = "orphaned, deletion disabled"
	ReasonInvalidSize      = "invalid size"
)

// Entry is one planned action.
type Entry struct {
	Item   types.CatalogItem `json:"item"`
	Action Action            `json:"action"`
	Reason string            `json:"reason"`
	Score  float64           `json:"score"`

	// Local is set for entries backed by content already on the target.
	Local *types.LocalEntry `json:"local,omitempty"`
}

// Size is the number of bytes the entry accounts for: the catalog size for
// keep and fetch, the size on the target for evict.
func (e Entry) Size() int64 {
	if e.Action == ActionEvict && e.Local != nil {
		return e.Local.Size
	}
	return e.Item.Size
}

// Rejection records a candidate the planner left out and why.
type Rejection struct {
	Item   types.CatalogItem `json:"item"`
	Reason string            `json:"reason"`
	Score  float64           `json:"score"`
}

// Manifest is the plan for one cycle. It is read-only once handed to the
// executor.
type Manifest struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`

	Budget      int64 `json:"budget"`
	PlannedSize int64 `json:"planned_size"`

	Entries  []Entry     `json:"entries"`
	Rejected []Rejection `json:"rejected,omitempty"`

	// Filtered counts catalog items that failed the filter rules.
	Filtered int `json:"filtered"`

	// Unresolved lists wanted names that matched nothing in the catalog.
	Unresolved []string `json:"unresolved,omitempty"`

	// Overcommitted is set when content that may not be deleted already
	// exceeds the budget. No fetches are planned in that case.
	Overcommitted bool `json:"overcommitted,omitempty"`
}

// Summary counts entries per action.
type Summary struct {
	Keep       int   `json:"keep"`
	Fetch      int   `json:"fetch"`
	Evict      int   `json:"evict"`
	Rejected   int   `json:"rejected"`
	FetchBytes int64 `json:"fetch_bytes"`
	EvictBytes int64 `json:"evict_bytes"`
	KeepBytes  int64 `json:"keep_bytes"`
}

// Summary tallies the manifest.
func (m *Manifest) Summary() Summary {
	s := Summary{Rejected: len(m.Rejected)}
	for _, e := range m.Entries {
		switch e.Action {
		case ActionKeep:
			s.Keep++
			s.KeepBytes += e.Size()
		case ActionFetch:
			s.Fetch++
			s.FetchBytes += e.Size()
		case ActionEvict:
			s.Evict++
			s.EvictBytes += e.Size()
		}
	}
	return s
}

// Filter returns the entries with the given action, in manifest order.
func (m *Manifest) Filter(action Action) []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether the manifest has nothing to do.
func (m *Manifest) Empty() bool {
	s := m.Summary()
	return s.Fetch == 0 && s.Evict == 0
}

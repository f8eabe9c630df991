package planner

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/filter"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

const gb = int64(1_000_000_000)

func byID(id string, weight float64) filter.PriorityRule {
	return filter.PriorityRule{Rule: filter.Rule{Attribute: "id", Value: id}, Weight: weight}
}

func actions(m *manifest.Manifest) map[string]manifest.Action {
	out := make(map[string]manifest.Action, len(m.Entries))
	for _, e := range m.Entries {
		out[e.Item.ID] = e.Action
	}
	return out
}

func keptAndFetchedBytes(m *manifest.Manifest) int64 {
	var total int64
	for _, e := range m.Entries {
		if e.Action == manifest.ActionKeep || e.Action == manifest.ActionFetch {
			total += e.Size()
		}
	}
	return total
}

func TestPlanSelectsByPriorityWithinBudget(t *testing.T) {
	t.Parallel()

	in := Input{
		Catalog: []types.CatalogItem{
			{ID: "C", Size: 2 * gb},
			{ID: "A", Size: 5 * gb},
			{ID: "B", Size: 3 * gb},
		},
		Priorities: []filter.PriorityRule{byID("A", 10), byID("B", 8), byID("C", 5)},
		Budget:     8 * gb,
	}
	m := Plan(in)

	require.Len(t, m.Entries, 2)
	assert.Equal(t, "A", m.Entries[0].Item.ID)
	assert.Equal(t, "B", m.Entries[1].Item.ID)
	assert.Equal(t, manifest.ActionFetch, m.Entries[0].Action)
	assert.Equal(t, 8*gb, m.PlannedSize)

	require.Len(t, m.Rejected, 1)
	assert.Equal(t, "C", m.Rejected[0].Item.ID)
	assert.Equal(t, manifest.ReasonOverBudget, m.Rejected[0].Reason)
}

func TestPlanZeroBudget(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{{ID: "a", Size: 1}, {ID: "b", Size: 2}},
		Budget:  0,
	})
	assert.Empty(t, m.Filter(manifest.ActionFetch))
	assert.Len(t, m.Rejected, 2)
}

func TestPlanItemLargerThanBudgetExcluded(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{{ID: "huge", Size: 10 * gb}, {ID: "small", Size: gb}},
		Budget:  5 * gb,
	})
	assert.Equal(t, map[string]manifest.Action{"small": manifest.ActionFetch}, actions(m))
	assert.Equal(t, "huge", m.Rejected[0].Item.ID)

	only := Plan(Input{Catalog: []types.CatalogItem{{ID: "huge", Size: 10 * gb}}, Budget: 5 * gb})
	assert.Empty(t, only.Entries)
	assert.Equal(t, int64(0), only.PlannedSize)
}

func TestPlanKeepsPresentAndRefetchesMismatch(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "same", Size: 10, Checksum: "abc"},
			{ID: "stale", Size: 10, Checksum: "new"},
			{ID: "nosum", Size: 7},
		},
		Local: []types.LocalEntry{
			{ID: "same", Size: 10, Checksum: "ABC"},
			{ID: "stale", Size: 10, Checksum: "old"},
			{ID: "nosum", Size: 7},
		},
		Budget: 100,
	})

	byItem := map[string]manifest.Entry{}
	for _, e := range m.Entries {
		byItem[e.Item.ID] = e
	}
	assert.Equal(t, manifest.ActionKeep, byItem["same"].Action)
	assert.Equal(t, manifest.ReasonPresent, byItem["same"].Reason)
	assert.Equal(t, manifest.ActionFetch, byItem["stale"].Action)
	assert.Equal(t, manifest.ReasonChecksumMismatch, byItem["stale"].Reason)
	assert.Equal(t, manifest.ActionKeep, byItem["nosum"].Action)
}

func TestPlanEvictsTrackedItemsThatLoseOut(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "hi", Size: 6, Attributes: map[string]string{"rating": "9"}},
			{ID: "lo", Size: 6, Attributes: map[string]string{"rating": "3"}},
			{ID: "bad", Size: 1, Attributes: map[string]string{"rating": "1"}},
		},
		Local:      []types.LocalEntry{{ID: "lo", Size: 6}, {ID: "bad", Size: 1}},
		Filters:    filter.Tree{And: []filter.Rule{{Attribute: "rating", Operator: filter.OpGte, Value: "2"}}},
		Priorities: []filter.PriorityRule{{Rule: filter.Rule{Attribute: "rating", Operator: filter.OpGte, Value: "5"}, Weight: 1}},
		Budget:     10,
	})

	assert.Equal(t, map[string]manifest.Action{
		"hi":  manifest.ActionFetch,
		"lo":  manifest.ActionEvict,
		"bad": manifest.ActionEvict,
	}, actions(m))
	assert.Equal(t, 1, m.Filtered)

	reasons := map[string]string{}
	for _, e := range m.Filter(manifest.ActionEvict) {
		reasons[e.Item.ID] = e.Reason
	}
	assert.Equal(t, manifest.ReasonOverBudget, reasons["lo"])
	assert.Equal(t, manifest.ReasonFilteredOut, reasons["bad"])
}

func TestPlanEmptyCatalog(t *testing.T) {
	t.Parallel()

	local := []types.LocalEntry{{ID: "old1", Size: 3}, {ID: "old2", Size: 4}}

	kept := Plan(Input{Local: local, Budget: 100})
	require.Len(t, kept.Entries, 2)
	for _, e := range kept.Entries {
		assert.Equal(t, manifest.ActionKeep, e.Action)
		assert.Equal(t, "orphaned, deletion disabled", e.Reason)
	}
	assert.Equal(t, int64(7), kept.PlannedSize)

	evicted := Plan(Input{Local: local, Budget: 100, DeleteExtras: true})
	require.Len(t, evicted.Entries, 2)
	for _, e := range evicted.Entries {
		assert.Equal(t, manifest.ActionEvict, e.Action)
	}
	assert.Equal(t, int64(0), evicted.PlannedSize)
}

func TestPlanOrphansConsumeBudget(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{{ID: "new", Size: 5}},
		Local:   []types.LocalEntry{{ID: "gone", Size: 8}},
		Budget:  10,
	})
	assert.Empty(t, m.Filter(manifest.ActionFetch))
	assert.False(t, m.Overcommitted)

	over := Plan(Input{
		Catalog: []types.CatalogItem{{ID: "new", Size: 1}},
		Local:   []types.LocalEntry{{ID: "gone", Size: 20}},
		Budget:  10,
	})
	assert.True(t, over.Overcommitted)
	assert.Empty(t, over.Filter(manifest.ActionFetch))
}

func TestPlanCategoryLimitAppliedBeforeBudget(t *testing.T) {
	t.Parallel()

	series := func(id, s string, size int64) types.CatalogItem {
		return types.CatalogItem{ID: id, Size: size, Attributes: map[string]string{"series": s}}
	}
	m := Plan(Input{
		Catalog: []types.CatalogItem{
			series("s1e1", "one", 4),
			series("s1e2", "one", 4),
			series("s1e3", "one", 4),
			series("s2e1", "two", 4),
			{ID: "film", Size: 1},
		},
		CategoryLimits: []CategoryLimit{{Attribute: "series", MaxItems: 2}},
		Budget:         100,
	})

	assert.Equal(t, map[string]manifest.Action{
		"s1e1": manifest.ActionFetch,
		"s1e2": manifest.ActionFetch,
		"s2e1": manifest.ActionFetch,
		"film": manifest.ActionFetch,
	}, actions(m))
	require.Len(t, m.Rejected, 1)
	assert.Equal(t, manifest.ReasonCategoryLimit, m.Rejected[0].Reason)
}

func TestPlanCategoryLimitDoesNotBacktrack(t *testing.T) {
	t.Parallel()

	// s1e1 uses the series slot, then misses the budget; s1e2 is already
	// out of candidacy, leaving budget unused.
	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "s1e1", Size: 20, Attributes: map[string]string{"series": "one"}},
			{ID: "s1e2", Size: 5, Attributes: map[string]string{"series": "one"}},
		},
		CategoryLimits: []CategoryLimit{{Attribute: "series", MaxItems: 1}},
		Budget:         10,
	})
	assert.Empty(t, m.Filter(manifest.ActionFetch))
	assert.Len(t, m.Rejected, 2)
}

func TestPlanCategoryByteLimit(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "a", Size: 6, Attributes: map[string]string{"genre": "Drama"}},
			{ID: "b", Size: 6, Attributes: map[string]string{"genre": "drama"}},
			{ID: "c", Size: 20, Attributes: map[string]string{"genre": "comedy"}},
		},
		CategoryLimits: []CategoryLimit{{Attribute: "genre", MaxBytes: 10}},
		Budget:         100,
	})
	assert.Equal(t, map[string]manifest.Action{"a": manifest.ActionFetch}, actions(m))
}

func TestPlanWantedItemsArePinned(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "zim/top.zim", Name: "Top Rated", Size: 6, Attributes: map[string]string{"rating": "10"}},
			{ID: "zim/wikivoyage_en.zim", Name: "Wikivoyage English", Size: 6, Attributes: map[string]string{"rating": "1"}},
		},
		Filters:        filter.Tree{And: []filter.Rule{{Attribute: "rating", Operator: filter.OpGte, Value: "5"}}},
		Priorities:     []filter.PriorityRule{{Rule: filter.Rule{Attribute: "rating"}, Weight: 1}},
		Wanted:         []string{"wikivoyage english", "Atlas of Nowhere"},
		MatchThreshold: 0.8,
		Budget:         10,
	})
	assert.Equal(t, map[string]manifest.Action{"zim/wikivoyage_en.zim": manifest.ActionFetch}, actions(m))
	assert.Equal(t, []string{"Atlas of Nowhere"}, m.Unresolved)
}

func TestPlanDeterministicAndIdempotent(t *testing.T) {
	t.Parallel()

	in := randomInput(rand.New(rand.NewPCG(7, 11)))
	first := Plan(in)
	second := Plan(in)
	assert.Equal(t, first, second)
}

func TestPlanNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 300 {
		in := randomInput(rng)
		m := Plan(in)

		if m.Overcommitted {
			assert.Empty(t, m.Filter(manifest.ActionFetch), "run %d", i)
			continue
		}
		assert.LessOrEqual(t, keptAndFetchedBytes(m), in.Budget, "run %d", i)
		assert.Equal(t, keptAndFetchedBytes(m), m.PlannedSize, "run %d", i)

		seen := map[string]bool{}
		for _, e := range m.Entries {
			assert.False(t, seen[e.Item.ID], "run %d: %s planned twice", i, e.Item.ID)
			seen[e.Item.ID] = true
		}
	}
}

func randomInput(rng *rand.Rand) Input {
	genres := []string{"drama", "comedy", "doc", ""}
	n := rng.IntN(30)
	catalog := make([]types.CatalogItem, n)
	for i := range catalog {
		attrs := map[string]string{"rating": fmt.Sprint(rng.IntN(10))}
		if g := genres[rng.IntN(len(genres))]; g != "" {
			attrs["genre"] = g
		}
		catalog[i] = types.CatalogItem{
			ID:         fmt.Sprintf("item-%02d", i),
			Size:       rng.Int64N(50) + 1,
			Attributes: attrs,
		}
	}

	var local []types.LocalEntry
	for i := range rng.IntN(10) {
		id := fmt.Sprintf("item-%02d", rng.IntN(40))
		if i%3 == 0 {
			id = fmt.Sprintf("orphan-%02d", i)
		}
		local = append(local, types.LocalEntry{ID: id, Size: rng.Int64N(50) + 1})
	}

	return Input{
		Catalog: catalog,
		Local:   local,
		Filters: filter.Tree{Or: []filter.Rule{
			{Attribute: "genre", Operator: filter.OpIn, Value: "drama,doc"},
			{Attribute: "rating", Operator: filter.OpGte, Value: "5"},
		}},
		Priorities: []filter.PriorityRule{
			{Rule: filter.Rule{Attribute: "rating", Operator: filter.OpGte, Value: "7"}, Weight: 3},
			{Rule: filter.Rule{Attribute: "genre", Value: "doc"}, Weight: 2},
		},
		CategoryLimits: []CategoryLimit{{Attribute: "genre", MaxItems: 4}},
		DeleteExtras:   rng.IntN(2) == 0,
		Budget:         rng.Int64N(400),
	}
}

func TestPlanRejectsNegativeSize(t *testing.T) {
	t.Parallel()

	m := Plan(Input{
		Catalog: []types.CatalogItem{
			{ID: "bogus", Size: -100},
			{ID: "big", Size: 90},
		},
		Priorities: []filter.PriorityRule{byID("bogus", 10)},
		Budget:     5,
	})

	assert.Empty(t, m.Filter(manifest.ActionFetch))
	assert.LessOrEqual(t, m.PlannedSize, int64(5))

	reasons := map[string]string{}
	for _, r := range m.Rejected {
		reasons[r.Item.ID] = r.Reason
	}
	assert.Equal(t, manifest.ReasonInvalidSize, reasons["bogus"])
	assert.Equal(t, manifest.ReasonOverBudget, reasons["big"])
}

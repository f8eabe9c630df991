package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func item(id string, attrs map[string]string) types.CatalogItem {
	return types.CatalogItem{ID: id, Name: id, Size: 1, Attributes: attrs}
}

func TestRuleMatch(t *testing.T) {
	t.Parallel()

	movie := item("heat", map[string]string{
		"year":   "1995",
		"rating": "8.3",
		"genre":  "Crime",
		"title":  "Heat (1995)",
	})

	tests := []struct {
		name        string
		rule        Rule
		wantMatch   bool
		wantPresent bool
	}{
		{"eq numeric", Rule{Attribute: "year", Operator: OpEq, Value: "1995.0"}, true, true},
		{"eq case insensitive", Rule{Attribute: "genre", Value: "crime"}, true, true},
		{"ne", Rule{Attribute: "genre", Operator: OpNe, Value: "drama"}, true, true},
		{"gt numeric", Rule{Attribute: "rating", Operator: OpGt, Value: "8"}, true, true},
		{"gt numeric not lexical", Rule{Attribute: "year", Operator: OpGt, Value: "200"}, true, true},
		{"lte fails", Rule{Attribute: "rating", Operator: OpLte, Value: "7"}, false, true},
		{"in values", Rule{Attribute: "genre", Operator: OpIn, Values: []string{"drama", "crime"}}, true, true},
		{"in comma value", Rule{Attribute: "genre", Operator: OpIn, Value: "drama, crime"}, true, true},
		{"contains", Rule{Attribute: "title", Operator: OpContains, Value: "HEAT"}, true, true},
		{"glob", Rule{Attribute: "title", Operator: OpGlob, Value: "heat*"}, true, true},
		{"exists", Rule{Attribute: "year", Operator: OpExists}, true, true},
		{"missing attribute", Rule{Attribute: "language", Value: "en"}, false, false},
		{"bad operator", Rule{Attribute: "year", Operator: "between", Value: "1"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			matched, present := tt.rule.Match(movie)
			assert.Equal(t, tt.wantPresent, present)
			assert.Equal(t, tt.wantMatch, matched)
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	withLang := item("a", map[string]string{"rating": "9", "language": "en"})
	noLang := item("b", map[string]string{"rating": "9"})
	french := item("c", map[string]string{"rating": "9", "language": "fr"})

	tests := []struct {
		name string
		tree Tree
		item types.CatalogItem
		want bool
	}{
		{"empty tree passes", Tree{}, noLang, true},
		{"and satisfied", Tree{And: []Rule{{Attribute: "rating", Operator: OpGte, Value: "7"}}}, noLang, true},
		{"missing attribute fails and", Tree{And: []Rule{{Attribute: "language", Value: "en"}}}, noLang, false},
		{"or satisfied", Tree{Or: []Rule{{Attribute: "language", Value: "en"}}}, withLang, true},
		{"missing attribute skipped in or", Tree{Or: []Rule{
			{Attribute: "language", Value: "en"},
			{Attribute: "rating", Operator: OpGt, Value: "5"},
		}}, noLang, true},
		{"only missing or attributes fail", Tree{Or: []Rule{{Attribute: "language", Value: "en"}}}, noLang, false},
		{"or none matched", Tree{Or: []Rule{{Attribute: "language", Value: "en"}}}, french, false},
		{"and plus or", Tree{
			And: []Rule{{Attribute: "rating", Operator: OpGte, Value: "8"}},
			Or:  []Rule{{Attribute: "language", Value: "fr"}, {Attribute: "language", Value: "de"}},
		}, french, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Evaluate(tt.item, tt.tree))
		})
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	t.Parallel()

	items := []types.CatalogItem{
		item("1", map[string]string{"kind": "a"}),
		item("2", map[string]string{"kind": "b"}),
		item("3", map[string]string{"kind": "a"}),
	}
	got := Apply(items, Tree{And: []Rule{{Attribute: "kind", Value: "a"}}})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestScoreMonotonic(t *testing.T) {
	t.Parallel()

	it := item("x", map[string]string{"genre": "doc", "year": "2020"})
	rules := []PriorityRule{{Rule: Rule{Attribute: "genre", Value: "doc"}, Weight: 5}}
	base := Score(it, rules)
	assert.InDelta(t, 5.0, base, 1e-9)

	more := append(rules, PriorityRule{Rule: Rule{Attribute: "year", Operator: OpGte, Value: "2000"}, Weight: 2})
	assert.GreaterOrEqual(t, Score(it, more), base)

	nonMatching := append(rules, PriorityRule{Rule: Rule{Attribute: "year", Operator: OpLt, Value: "2000"}, Weight: 3})
	assert.InDelta(t, base, Score(it, nonMatching), 1e-9)

	existsOnly := []PriorityRule{{Rule: Rule{Attribute: "genre"}, Weight: 1.5}}
	assert.InDelta(t, 1.5, Score(it, existsOnly), 1e-9)
}

func TestRankStableTieBreak(t *testing.T) {
	t.Parallel()

	items := []types.CatalogItem{
		item("low", map[string]string{"p": "1"}),
		item("tie-first", map[string]string{"p": "2"}),
		item("tie-second", map[string]string{"p": "2"}),
		item("high", map[string]string{"p": "3"}),
	}
	rules := []PriorityRule{
		{Rule: Rule{Attribute: "p", Operator: OpGte, Value: "2"}, Weight: 1},
		{Rule: Rule{Attribute: "p", Operator: OpGte, Value: "3"}, Weight: 1},
	}

	ranked := Rank(items, rules)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Item.ID
	}
	assert.Equal(t, []string{"high", "tie-first", "tie-second", "low"}, ids)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Tree{And: []Rule{{Attribute: "a", Operator: ">=", Value: "1"}}}.Validate())
	assert.ErrorIs(t, Tree{And: []Rule{{Operator: OpEq}}}.Validate(), ErrMissingAttribute)
	assert.ErrorIs(t, Tree{Or: []Rule{{Attribute: "a", Operator: "between"}}}.Validate(), ErrInvalidOperator)
	assert.Error(t, Rule{Attribute: "a", Operator: OpGlob, Value: "[unterminated"}.Validate())
	assert.ErrorIs(t, PriorityRule{Rule: Rule{Attribute: "a"}, Weight: -1}.Validate(), ErrNegativeWeight)
}

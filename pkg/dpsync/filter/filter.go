package filter

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// globCache holds compiled patterns keyed by source text.
var globCache sync.Map

func compileGlob(pattern string) (glob.Glob, error) {
	if g, ok := globCache.Load(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(strings.ToLower(pattern), '/')
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g, nil
}

// Match evaluates the rule against item. present reports whether the
// attribute exists on the item; matched is only meaningful when present.
func (r Rule) Match(item types.CatalogItem) (matched, present bool) {
	actual, ok := item.Attr(r.Attribute)
	if !ok {
		return false, false
	}

	op, err := ParseOperator(string(r.Operator))
	if err != nil {
		return false, true
	}

	switch op {
	case OpExists:
		return true, true
	case OpEq:
		return compare(actual, r.Value) == 0, true
	case OpNe:
		return compare(actual, r.Value) != 0, true
	case OpGt:
		return compare(actual, r.Value) > 0, true
	case OpGte:
		return compare(actual, r.Value) >= 0, true
	case OpLt:
		return compare(actual, r.Value) < 0, true
	case OpLte:
		return compare(actual, r.Value) <= 0, true
	case OpIn:
		for _, v := range r.inValues() {
			if compare(actual, v) == 0 {
				return true, true
			}
		}
		return false, true
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(r.Value)), true
	case OpGlob:
		g, err := compileGlob(r.Value)
		if err != nil {
			return false, true
		}
		return g.Match(strings.ToLower(actual)), true
	}
	return false, true
}

func (r Rule) inValues() []string {
	if len(r.Values) > 0 {
		return r.Values
	}
	if r.Value == "" {
		return nil
	}
	parts := strings.Split(r.Value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// compare orders two attribute values numerically when both parse as
// numbers, and case-insensitively as strings otherwise.
func compare(a, b string) int {
	af, aerr := strconv.ParseFloat(strings.TrimSpace(a), 64)
	bf, berr := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// Evaluate reports whether item passes the tree.
func Evaluate(item types.CatalogItem, tree Tree) bool {
	for _, r := range tree.And {
		matched, present := r.Match(item)
		if !present || !matched {
			return false
		}
	}

	if len(tree.Or) == 0 {
		return true
	}
	for _, r := range tree.Or {
		if matched, present := r.Match(item); present && matched {
			return true
		}
	}
	return false
}

// Apply returns the items passing the tree, in their original order.
func Apply(items []types.CatalogItem, tree Tree) []types.CatalogItem {
	out := make([]types.CatalogItem, 0, len(items))
	for _, item := range items {
		if Evaluate(item, tree) {
			out = append(out, item)
		}
	}
	return out
}

// Score sums the weights of every matching priority rule.
func Score(item types.CatalogItem, rules []PriorityRule) float64 {
	var total float64
	for _, p := range rules {
		if p.Weight <= 0 {
			continue
		}
		r := p.Rule
		if r.Operator == "" && r.Value == "" && len(r.Values) == 0 {
			r.Operator = OpExists
		}
		if matched, present := r.Match(item); present && matched {
			total += p.Weight
		}
	}
	return total
}

// Ranked pairs an item with its score and catalog position.
type Ranked struct {
	Item  types.CatalogItem
	Score float64
	Index int
}

// Rank scores items and sorts them by descending score. Equal scores keep
// catalog order.
func Rank(items []types.CatalogItem, rules []PriorityRule) []Ranked {
	ranked := make([]Ranked, len(items))
	for i, item := range items {
		ranked[i] = Ranked{Item: item, Score: Score(item, rules), Index: i}
	}
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Index - b.Index
		}
	})
	return ranked
}

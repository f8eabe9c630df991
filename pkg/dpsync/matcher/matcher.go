// Package matcher resolves human-entered names against a catalog using fuzzy,
// case- and punctuation-insensitive similarity scores in the range [0, 1].
package matcher

import (
	"path"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// DefaultThreshold is used when callers pass a threshold outside (0, 1].
const DefaultThreshold = 0.6

// Candidate is a catalog item with its similarity to the query.
type Candidate struct {
	Item  types.CatalogItem `json:"item"`
	Score float64           `json:"score"`
	index int
}

// Normalize folds s to lowercase ASCII-ish words: diacritics are stripped,
// punctuation becomes whitespace and runs of whitespace collapse.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Similarity scores how well query matches target, from 0 (nothing in
// common) to 1 (identical after normalization).
func Similarity(query, target string) float64 {
	q := Normalize(query)
	t := Normalize(target)
	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return 1
	}

	var score float64
	qLen, tLen := utf8.RuneCountInString(q), utf8.RuneCountInString(t)
	ratio := float64(qLen) / float64(tLen)
	if ratio > 1 {
		ratio = 1 / ratio
	}

	switch {
	case strings.HasPrefix(t, q):
		score = 0.85 + 0.1*ratio
	case strings.Contains(t, q):
		score = 0.6 + 0.25*ratio
	}

	// Whole-string edit similarity.
	dist := fuzzy.LevenshteinDistance(q, t)
	score = max(score, 1-float64(dist)/float64(max(qLen, tLen)))

	// Fraction of query words that appear in the target.
	qWords := strings.Fields(q)
	tWords := strings.Fields(t)
	if len(qWords) > 0 {
		found := 0
		for _, w := range qWords {
			if slices.Contains(tWords, w) {
				found++
			}
		}
		score = max(score, 0.85*float64(found)/float64(len(qWords))*min(1, 0.5+ratio))
	}

	// Subsequence match, e.g. abbreviations.
	if fuzzy.Match(strings.ReplaceAll(q, " ", ""), t) {
		score = max(score, 0.4+0.3*ratio)
	}

	return min(max(score, 0), 1)
}

// itemScore compares the query against the item's display name and the base
// name of its identifier, keeping the better score.
func itemScore(query string, item types.CatalogItem) float64 {
	best := Similarity(query, item.Name)
	if item.ID != "" {
		base := path.Base(item.ID)
		base = strings.TrimSuffix(base, path.Ext(base))
		best = max(best, Similarity(query, base))
	}
	return best
}

// FindBestMatch ranks catalog items by similarity to query. Items scoring
// below threshold are dropped; equal scores keep catalog order. An empty
// catalog or query yields an empty slice. limit <= 0 means unlimited.
func FindBestMatch(query string, catalog []types.CatalogItem, threshold float64, limit int) []Candidate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	out := []Candidate{}
	if len(catalog) == 0 || Normalize(query) == "" {
		return out
	}

	for i, item := range catalog {
		if s := itemScore(query, item); s >= threshold {
			out = append(out, Candidate{Item: item, Score: s, index: i})
		}
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.index - b.index
		}
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reconcile maps configured display names onto catalog items. Names without
// a candidate above threshold are returned in unresolved, in input order.
func Reconcile(wanted []string, catalog []types.CatalogItem, threshold float64) (resolved map[string]types.CatalogItem, unresolved []string) {
	resolved = make(map[string]types.CatalogItem, len(wanted))
	for _, name := range wanted {
		matches := FindBestMatch(name, catalog, threshold, 1)
		if len(matches) == 0 {
			unresolved = append(unresolved, name)
			continue
		}
		resolved[name] = matches[0].Item
	}
	return resolved, unresolved
}

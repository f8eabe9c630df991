package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func catalog() []types.CatalogItem {
	return []types.CatalogItem{
		{ID: "zim/wikipedia_en_all_maxi_2024-01.zim", Name: "Wikipedia (English, all, maxi)"},
		{ID: "zim/wiktionary_en_all_nopic.zim", Name: "Wiktionary English"},
		{ID: "movies/amelie.mkv", Name: "Amélie"},
		{ID: "movies/the-matrix.mkv", Name: "The Matrix"},
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Amélie: Le Fabuleux Destin!", "amelie le fabuleux destin"},
		{"  THE   Matrix ", "the matrix"},
		{"wikipedia_en_all-maxi", "wikipedia en all maxi"},
		{"...", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestSimilarityRange(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"matrix", "The Matrix"},
		{"x", "a very long unrelated title"},
		{"wikipedia", "wiktionary"},
		{"", "anything"},
		{"same", "SAME!"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0, "%q vs %q", p[0], p[1])
		assert.LessOrEqual(t, s, 1.0, "%q vs %q", p[0], p[1])
	}

	assert.InDelta(t, 1.0, Similarity("The Matrix", "the matrix!!"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("Amelie", "Amélie"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("", "x"), 1e-9)
	assert.Greater(t, Similarity("matrix", "The Matrix"), Similarity("matrix", "Amélie"))
}

func TestSimilarityCountsRunes(t *testing.T) {
	t.Parallel()

	// One substitution in six letters, each two bytes wide.
	assert.InDelta(t, 5.0/6, Similarity("Москва", "Москвы"), 1e-9)
}

func TestFindBestMatch(t *testing.T) {
	t.Parallel()

	got := FindBestMatch("the matrix", catalog(), 0.5, 0)
	require.NotEmpty(t, got)
	assert.Equal(t, "movies/the-matrix.mkv", got[0].Item.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	got = FindBestMatch("AMELIE", catalog(), 0.9, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "movies/amelie.mkv", got[0].Item.ID)

	got = FindBestMatch("wikipedia en all maxi", catalog(), 0.5, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "zim/wikipedia_en_all_maxi_2024-01.zim", got[0].Item.ID)
}

func TestFindBestMatchThresholdAndEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FindBestMatch("zzzzqqq", catalog(), 0.9, 0))

	empty := FindBestMatch("matrix", nil, 0.5, 0)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.Empty(t, FindBestMatch("!!!", catalog(), 0.5, 0))

	for _, c := range FindBestMatch("wik", catalog(), 0.3, 0) {
		assert.GreaterOrEqual(t, c.Score, 0.3)
	}
}

func TestFindBestMatchTieKeepsCatalogOrder(t *testing.T) {
	t.Parallel()

	items := []types.CatalogItem{
		{ID: "b/alpha.bin", Name: "Alpha"},
		{ID: "a/alpha.bin", Name: "Alpha"},
	}
	got := FindBestMatch("alpha", items, 0.5, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "b/alpha.bin", got[0].Item.ID)
	assert.Equal(t, "a/alpha.bin", got[1].Item.ID)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	resolved, unresolved := Reconcile([]string{"Matrix", "Amelie", "Nonexistent Film Title"}, catalog(), 0.7)
	assert.Equal(t, "movies/the-matrix.mkv", resolved["Matrix"].ID)
	assert.Equal(t, "movies/amelie.mkv", resolved["Amelie"].ID)
	assert.Equal(t, []string{"Nonexistent Film Title"}, unresolved)
}

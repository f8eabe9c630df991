package catalog_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFSAdapterList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "movies/the_matrix.mkv", "0123456789")
	writeFile(t, root, "movies/the_matrix.mkv.meta.json",
		`{"name":"The Matrix","checksum":"ABCDEF","attributes":{"Year":"1999","rating":"8.7"}}`)
	writeFile(t, root, "shows/dark/s01e01.mkv", "abc")
	writeFile(t, root, "readme.txt", "x")
	writeFile(t, root, ".hidden/secret.bin", "x")
	writeFile(t, root, "movies/half.mkv.dpsync-partial", "x")

	a := catalog.NewFS("library", root)
	items, err := a.List(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"movies/the_matrix.mkv", "readme.txt", "shows/dark/s01e01.mkv"}, ids)

	m := items[0]
	assert.Equal(t, "The Matrix", m.Name)
	assert.Equal(t, int64(10), m.Size)
	assert.Equal(t, "abcdef", m.Checksum)
	assert.Equal(t, "library", m.Source)
	assert.Equal(t, "movies", m.Attributes["category"])
	assert.Equal(t, "1999", m.Attributes["year"])
	assert.Equal(t, "mkv", m.Attributes["ext"])

	assert.Equal(t, "s01e01", items[2].Name)
	assert.Equal(t, "shows", items[2].Attributes["category"])
	_, hasCategory := items[1].Attributes["category"]
	assert.False(t, hasCategory)
}

func TestFSAdapterListMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := catalog.NewFS("gone", filepath.Join(t.TempDir(), "nope")).List(context.Background())
	require.Error(t, err)
	assert.Equal(t, string(retry.CategoryFilesystem), retry.CategoryOf(err))
}

func TestFSAdapterOpenWithOffset(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a/b.bin", "0123456789")
	a := catalog.NewFS("library", root)
	assert.True(t, catalog.SupportsRange(a))

	rc, off, err := a.Open(context.Background(), types.CatalogItem{ID: "a/b.bin"}, 4)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(4), off)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(data))
}

func TestFSAdapterOpenMissing(t *testing.T) {
	t.Parallel()

	a := catalog.NewFS("library", t.TempDir())
	_, _, err := a.Open(context.Background(), types.CatalogItem{ID: "missing.bin"}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.False(t, retry.IsRetryable(err))
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec catalog.Spec
		ok   bool
	}{
		{"fs", catalog.Spec{Name: "a", Type: catalog.TypeFS, Path: "/srv"}, true},
		{"fs without path", catalog.Spec{Name: "a", Type: catalog.TypeFS}, false},
		{"http", catalog.Spec{Name: "a", Type: catalog.TypeHTTP, URL: "https://x"}, true},
		{"unknown type", catalog.Spec{Name: "a", Type: "ftp"}, false},
		{"no name", catalog.Spec{Type: catalog.TypeFS, Path: "/srv"}, false},
		{"mirrors", catalog.Spec{Name: "m", Type: catalog.TypeMirrors, Mirrors: []catalog.Spec{
			{Name: "a", Type: catalog.TypeHTTP, URL: "https://a"},
		}}, true},
		{"nested mirrors", catalog.Spec{Name: "m", Type: catalog.TypeMirrors, Mirrors: []catalog.Spec{
			{Name: "n", Type: catalog.TypeMirrors},
		}}, false},
		{"empty mirrors", catalog.Spec{Name: "m", Type: catalog.TypeMirrors}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, string(retry.CategoryConfiguration), retry.CategoryOf(err))
		})
	}
}

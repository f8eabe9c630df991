package catalog_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

const testIndex = `[
  {"id": "wiki/wikipedia_en_all.zim", "name": "Wikipedia EN", "size": 10, "checksum": "AA", "attributes": {"Language": "en"}},
  {"id": "wiki/wiktionary_en.zim", "size": 4},
  {"name": "no id is skipped"}
]`

const testContent = "0123456789"

// catalogServer serves testIndex and testContent. With ranges false it
// ignores Range headers like a naive static server.
func catalogServer(t *testing.T, ranges bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/index.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, testIndex)
		case "/wiki/wikipedia_en_all.zim":
			if ranges {
				http.ServeContent(w, r, "x.zim", time.Time{}, strings.NewReader(testContent))
				return
			}
			_, _ = io.WriteString(w, testContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAdapterList(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, true, nil)
	a, err := catalog.NewHTTP("kiwix", srv.URL+"/", nil)
	require.NoError(t, err)

	items, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "wiki/wikipedia_en_all.zim", items[0].ID)
	assert.Equal(t, "Wikipedia EN", items[0].Name)
	assert.Equal(t, "aa", items[0].Checksum)
	assert.Equal(t, "en", items[0].Attributes["language"])
	assert.Equal(t, "wiki", items[0].Attributes["category"])
	assert.Equal(t, srv.URL+"/wiki/wikipedia_en_all.zim", items[0].Remote)
	assert.Equal(t, "kiwix", items[0].Source)

	assert.Equal(t, "wiktionary en", items[1].Name)
}

func TestHTTPAdapterListStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	a, err := catalog.NewHTTP("down", srv.URL, nil)
	require.NoError(t, err)

	_, err = a.List(context.Background())
	var status *retry.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.Code)
	assert.True(t, retry.IsRetryable(err))
}

func TestHTTPAdapterResume(t *testing.T) {
	t.Parallel()

	item := types.CatalogItem{ID: "wiki/wikipedia_en_all.zim"}

	t.Run("range honored", func(t *testing.T) {
		a, err := catalog.NewHTTP("kiwix", catalogServer(t, true, nil).URL, nil)
		require.NoError(t, err)

		rc, off, err := a.Open(context.Background(), item, 6)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, int64(6), off)
		assert.Equal(t, "6789", string(data))
	})

	t.Run("range ignored restarts", func(t *testing.T) {
		a, err := catalog.NewHTTP("kiwix", catalogServer(t, false, nil).URL, nil)
		require.NoError(t, err)

		rc, off, err := a.Open(context.Background(), item, 6)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Zero(t, off)
		assert.Equal(t, testContent, string(data))
	})
}

func TestHTTPAdapterOpenNotFound(t *testing.T) {
	t.Parallel()

	a, err := catalog.NewHTTP("kiwix", catalogServer(t, true, nil).URL, nil)
	require.NoError(t, err)

	_, _, err = a.Open(context.Background(), types.CatalogItem{ID: "nope.zim"}, 0)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.False(t, retry.IsRetryable(err))
}

func TestNewHTTPRejectsBadScheme(t *testing.T) {
	t.Parallel()

	_, err := catalog.NewHTTP("x", "ftp://example.com", nil)
	require.Error(t, err)
	assert.Equal(t, string(retry.CategoryConfiguration), retry.CategoryOf(err))
}

func TestHTTPAdapterListSkipsNegativeSize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id": "bad.zim", "size": -100}, {"id": "good.zim", "size": 90}]`)
	}))
	t.Cleanup(srv.Close)

	a, err := catalog.NewHTTP("kiwix", srv.URL+"/", nil)
	require.NoError(t, err)

	items, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "good.zim", items[0].ID)
	assert.Equal(t, int64(90), items[0].Size)
}

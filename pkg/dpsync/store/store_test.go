package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/store"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTrackedLedger(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "movies/b.mkv", Size: 20}))
	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "movies/a.mkv", Size: 10, Checksum: "abc"}))
	require.NoError(t, s.Track("nas", types.LocalEntry{ID: "movies/a.mkv", Size: 99}))

	e, ok, err := s.Tracked("usb", "movies/a.mkv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), e.Size)
	assert.Equal(t, "abc", e.Checksum)

	_, ok, err = s.Tracked("usb", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := s.TrackedEntries("usb")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "movies/a.mkv", entries[0].ID)
	assert.Equal(t, "movies/b.mkv", entries[1].ID)

	require.NoError(t, s.Untrack("usb", "movies/a.mkv"))
	entries, err = s.TrackedEntries("usb")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	targets, err := s.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"nas", "usb"}, targets)
}

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	s := openStore(t)

	for i := 1; i <= 5; i++ {
		r := types.SyncResult{ID: fmt.Sprintf("%02d", i), Target: "usb", Processed: i}
		require.NoError(t, s.AppendResult(r, 3))
	}
	require.NoError(t, s.AppendResult(types.SyncResult{ID: "99", Target: "other"}, 3))

	got, err := s.History("usb", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "05", got[0].ID)
	assert.Equal(t, "04", got[1].ID)
	assert.Equal(t, "03", got[2].ID)

	limited, err := s.History("usb", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 5, limited[0].Processed)
}

func TestAppendResultAssignsID(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.AppendResult(types.SyncResult{Target: "usb"}, 0))

	got, err := s.History("usb", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
}

func TestChecksumCache(t *testing.T) {
	s := openStore(t)
	mtime := time.Unix(1700000000, 42)

	require.NoError(t, s.PutChecksum("/t/a", 10, mtime, "deadbeef"))

	sum, ok := s.LookupChecksum("/t/a", 10, mtime)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", sum)

	_, ok = s.LookupChecksum("/t/a", 11, mtime)
	assert.False(t, ok, "size change invalidates")
	_, ok = s.LookupChecksum("/t/a", 10, mtime.Add(time.Second))
	assert.False(t, ok, "mtime change invalidates")

	require.NoError(t, s.DeleteChecksum("/t/a"))
	_, ok = s.LookupChecksum("/t/a", 10, mtime)
	assert.False(t, ok)
}

func TestForgetTarget(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "a"}))
	require.NoError(t, s.AppendResult(types.SyncResult{Target: "usb"}, 0))
	require.NoError(t, s.Track("usb2", types.LocalEntry{ID: "a"}))

	require.NoError(t, s.ForgetTarget("usb"))

	entries, err := s.TrackedEntries("usb")
	require.NoError(t, err)
	assert.Empty(t, entries)
	hist, err := s.History("usb", 0)
	require.NoError(t, err)
	assert.Empty(t, hist)

	entries, err = s.TrackedEntries("usb2")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFreshStoreIsCurrent(t *testing.T) {
	s := openStore(t)
	schema := s.GetSchema()
	require.NotNil(t, schema)
	assert.Equal(t, store.CurrentSchemaVersion, schema.Version)
	assert.False(t, s.NeedsMigration())

	n, err := s.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateSeedsChecksumCache(t *testing.T) {
	s := openStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "a.bin", Path: path, Size: 5, Checksum: "cafe"}))
	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "gone", Path: filepath.Join(dir, "gone"), Size: 1, Checksum: "beef"}))
	require.NoError(t, s.SetSchema(&store.Schema{Version: 1}))
	require.True(t, s.NeedsMigration())

	var progress []store.MigrationProgress
	n, err := s.Migrate(context.Background(), func(p store.MigrationProgress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, progress, 1)
	assert.False(t, s.NeedsMigration())

	sum, ok := s.LookupChecksum(path, 5, info.ModTime())
	assert.True(t, ok)
	assert.Equal(t, "cafe", sum)
}

func TestMigrateCancellation(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Track("usb", types.LocalEntry{ID: "a"}))
	require.NoError(t, s.SetSchema(&store.Schema{Version: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Migrate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

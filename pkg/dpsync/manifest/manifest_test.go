package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func sample(target string) *Manifest {
	return &Manifest{
		Target: target,
		Budget: 100,
		Entries: []Entry{
			{Item: types.CatalogItem{ID: "a", Size: 40}, Action: ActionKeep, Reason: ReasonPresent,
				Local: &types.LocalEntry{ID: "a", Size: 40}},
			{Item: types.CatalogItem{ID: "b", Size: 30}, Action: ActionFetch, Reason: ReasonSelected},
			{Item: types.CatalogItem{ID: "c"}, Action: ActionEvict, Reason: ReasonNotSelected,
				Local: &types.LocalEntry{ID: "c", Size: 25}},
		},
		Rejected: []Rejection{{Item: types.CatalogItem{ID: "d", Size: 90}, Reason: "over budget"}},
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	m := sample("usb")
	s := m.Summary()
	assert.Equal(t, Summary{Keep: 1, Fetch: 1, Evict: 1, Rejected: 1, KeepBytes: 40, FetchBytes: 30, EvictBytes: 25}, s)
	assert.False(t, m.Empty())
	assert.Len(t, m.Filter(ActionFetch), 1)
	assert.Equal(t, "b", m.Filter(ActionFetch)[0].Item.ID)

	idle := &Manifest{Entries: []Entry{{Action: ActionKeep}}}
	assert.True(t, idle.Empty())
}

func TestJournalSaveLatestList(t *testing.T) {
	t.Parallel()

	j, err := NewJournal(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)

	_, err = j.Latest("usb")
	assert.ErrorIs(t, err, ErrNotFound)

	first := sample("usb")
	require.NoError(t, j.Save(first))
	second := sample("usb")
	second.PlannedSize = 70
	require.NoError(t, j.Save(second))
	require.NoError(t, j.Save(sample("nas")))

	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	latest, err := j.Latest("usb")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, int64(70), latest.PlannedSize)

	usb, err := j.List("usb", 0)
	require.NoError(t, err)
	require.Len(t, usb, 2)
	assert.Equal(t, second.ID, usb[0].ID)

	all, err := j.List("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := j.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "usb", got.Target)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, int64(25), got.Entries[2].Local.Size)

	_, err = j.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalSkipsCorruptAndPrunes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewJournal(dir)
	require.NoError(t, err)

	for range 4 {
		require.NoError(t, j.Save(sample("usb")))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usb--ZZZZZZZZZZZZZZZZZZZZZZZZZZ.json"), []byte("{"), 0o644))

	list, err := j.List("usb", 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	removed, err := j.Prune("usb", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	list, err = j.List("usb", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "the corrupt newest file counts towards keep")
}

func TestNewJournalRejectsEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := NewJournal("")
	assert.Error(t, err)
}

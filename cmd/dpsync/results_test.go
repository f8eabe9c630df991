package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func sampleResult() types.SyncResult {
	r := types.SyncResult{
		ID:         "01J0000000000000000000000A",
		Target:     "usb",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Duration:   1500 * time.Millisecond,
		Outcome:    types.OutcomePartial,
		Fetched:    2,
		Evicted:    1,
		Kept:       4,
		BytesMoved: 2_000_000,
	}
	r.AddError("movies/b.mkv", "transport", errors.New("connection reset"))
	return r
}

func TestFormatResult(t *testing.T) {
	line := formatResult(sampleResult())

	assert.Contains(t, line, "usb")
	assert.Contains(t, line, "partial")
	assert.Contains(t, line, "2 fetched, 1 evicted, 4 kept")
	assert.Contains(t, line, "1 failed")
	assert.Contains(t, line, "2.0 MB moved")
	assert.Contains(t, line, "[transport] movies/b.mkv: connection reset")
}

func TestFormatResultAborted(t *testing.T) {
	r := types.SyncResult{Target: "usb", Outcome: types.OutcomeFailed, Error: "source nas unreachable"}
	line := formatResult(r)
	assert.Contains(t, line, "failed")
	assert.Contains(t, line, "source nas unreachable")
	assert.NotContains(t, line, "ago")
}

func TestRenderResults(t *testing.T) {
	results := []types.SyncResult{sampleResult(), {Target: "sd", Outcome: types.OutcomeCompleted}}

	var buf bytes.Buffer
	require.NoError(t, renderResults(&buf, "json", results))
	var decoded []types.SyncResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "usb", decoded[0].Target)

	buf.Reset()
	require.NoError(t, renderResults(&buf, "yaml", results))
	assert.Contains(t, buf.String(), "target: usb")

	buf.Reset()
	require.NoError(t, renderResults(&buf, "text", results))
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 3)

	err := renderResults(&buf, "xml", results)
	require.Error(t, err)
}

func TestProgressLine(t *testing.T) {
	encode := func(e events.Event) events.Record {
		rec, err := events.Encode(e, time.Now())
		require.NoError(t, err)
		return rec
	}

	line, ok := progressLine(encode(events.ItemCompleted{Target: "usb", ItemID: "movies/a.mkv", Action: "fetch", Bytes: 4000}))
	require.True(t, ok)
	assert.Contains(t, line, "fetch")
	assert.Contains(t, line, "movies/a.mkv")
	assert.Contains(t, line, "4.0 kB")

	line, ok = progressLine(encode(events.ItemFailed{Target: "usb", ItemID: "movies/b.mkv", Error: "checksum mismatch"}))
	require.True(t, ok)
	assert.Contains(t, line, "checksum mismatch")

	line, ok = progressLine(encode(events.CycleStarted{Target: "usb", CycleID: "c1", Reason: "manual"}))
	require.True(t, ok)
	assert.Contains(t, line, "cycle started (manual)")

	line, ok = progressLine(encode(events.CycleFailed{Target: "usb", Error: "device removed"}))
	require.True(t, ok)
	assert.Contains(t, line, "device removed")

	_, ok = progressLine(encode(events.StateChanged{Target: "usb", From: "idle", To: "planning"}))
	assert.False(t, ok)
}

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/transfer"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Now()
	st := &dpsyncv1.StatusReply{
		Daemon: dpsyncv1.DaemonInfo{PID: 4242, Version: "1.0", StartedAt: now.Add(-90 * time.Second), HTTPAddr: "127.0.0.1:9465"},
		Targets: []orchestrator.Status{
			{
				Target:   "usb",
				State:    orchestrator.StateTransferring,
				Enabled:  true,
				Running:  true,
				CycleID:  "01JCYCLE",
				Progress: transfer.Progress{Done: 2, Total: 5, Bytes: 1_000_000, BytesTotal: 5_000_000},
				Device: target.Info{
					Name: "usb", Path: "/media/usb", State: target.StateBusy,
					Capacity: 64_000_000_000, Free: 10_000_000_000, FSType: "exfat",
				},
				Breakers: []retry.BreakerStatus{
					{Name: "nas", State: retry.StateClosed},
					{Name: "mirror", State: retry.StateOpen, Failures: 5},
				},
			},
			{
				Target:     "sd",
				State:      orchestrator.StateIdle,
				Device:     target.Info{Name: "sd", Path: "/media/sd", State: target.StateFailed, Reason: "read-only filesystem"},
				LastResult: &types.SyncResult{Target: "sd", Outcome: types.OutcomeCompleted},
				NextRun:    now.Add(time.Hour),
			},
		},
	}

	var buf bytes.Buffer
	renderStatus(&buf, st, now)
	out := buf.String()

	assert.Contains(t, out, "PID 4242")
	assert.Contains(t, out, "Uptime 1m 30s")
	assert.Contains(t, out, "http://127.0.0.1:9465")
	assert.Contains(t, out, "transferring")
	assert.Contains(t, out, "10 GB free of 64 GB (exfat)")
	assert.Contains(t, out, "2/5 items")
	assert.Contains(t, out, "mirror open (5 failures)")
	assert.NotContains(t, out, "nas closed")
	assert.Contains(t, out, "(disabled)")
	assert.Contains(t, out, "read-only filesystem")
	assert.Contains(t, out, "from now")
}

func TestRenderConfiguredTargets(t *testing.T) {
	off := false
	cfg := &config.Config{
		Targets: []config.TargetConfig{
			{Name: "usb", Path: "/media/usb"},
			{Name: "sd", Path: "/media/sd", Enabled: &off},
		},
		ContentTypes: []config.ContentTypeConfig{
			{Name: "movies", Source: "nas", Target: "usb", LocalPath: "movies", MaxSize: "32GB"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderConfiguredTargets(&buf, cfg, ""))
	out := buf.String()
	assert.Contains(t, out, "Daemon not running")
	assert.Contains(t, out, "/media/usb")
	assert.Contains(t, out, "movies movies <- nas (32GB)")
	assert.Contains(t, out, "disabled")

	buf.Reset()
	require.NoError(t, renderConfiguredTargets(&buf, cfg, "sd"))
	assert.NotContains(t, buf.String(), "/media/usb")

	require.Error(t, renderConfiguredTargets(&buf, cfg, "floppy"))
}

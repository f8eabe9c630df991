package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/daemon"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterReadEndpoints(t *testing.T) {
	e, _ := newEngine(t)
	h := daemon.NewRouter(e)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"health", "/healthz", http.StatusOK},
		{"status all", "/status", http.StatusOK},
		{"status one", "/status?target=usb", http.StatusOK},
		{"status unknown", "/status?target=nope", http.StatusNotFound},
		{"history", "/history/usb", http.StatusOK},
		{"history bad limit", "/history/usb?limit=x", http.StatusBadRequest},
		{"history unknown", "/history/nope", http.StatusNotFound},
		{"manifest before any plan", "/manifest/usb", http.StatusNotFound},
		{"metrics", "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestRouterAfterCycle(t *testing.T) {
	e, _ := newEngine(t)
	h := daemon.NewRouter(e)

	e.Attach(context.Background())
	tg, err := e.Target("usb")
	require.NoError(t, err)
	res := tg.Orchestrator.RunCycle(context.Background(), orchestrator.ReasonManual)
	require.Empty(t, res.Error)

	rec := do(t, h, http.MethodGet, "/history/usb?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []types.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Fetched)

	rec = do(t, h, http.MethodGet, "/manifest/usb")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), res.ID)

	rec = do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st []orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st, 1)
	require.NotNil(t, st[0].LastResult)
	assert.Equal(t, res.ID, st[0].LastResult.ID)

	rec = do(t, h, http.MethodGet, "/metrics")
	assert.True(t, strings.Contains(rec.Body.String(), "dpsync_"), "metrics exposed")
}

func TestRouterControl(t *testing.T) {
	e, _ := newEngine(t)
	h := daemon.NewRouter(e)

	rec := do(t, h, http.MethodPost, "/targets/usb/disable")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"targets":["usb"]}`, rec.Body.String())
	tg, _ := e.Target("usb")
	assert.False(t, tg.Orchestrator.Enabled())

	rec = do(t, h, http.MethodPost, "/targets/all/enable")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, tg.Orchestrator.Enabled())

	rec = do(t, h, http.MethodPost, "/targets/usb/trigger")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"targets":["usb"]}`, rec.Body.String())

	// A pending trigger coalesces with the next one.
	rec = do(t, h, http.MethodPost, "/targets/usb/trigger")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"targets":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/targets/usb/explode")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/targets/nope/trigger")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/targets/usb/trigger")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthDegradesOnAbortedCycle(t *testing.T) {
	e, _ := newEngine(t)
	h := daemon.NewRouter(e)

	// The target was never attached, so the cycle aborts.
	tg, _ := e.Target("usb")
	res := tg.Orchestrator.RunCycle(context.Background(), orchestrator.ReasonManual)
	require.NotEmpty(t, res.Error)

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body daemon.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.NotEqual(t, "ok", body.Targets["usb"])
}

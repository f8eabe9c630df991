package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

// newEngine builds an engine over a temp library with two films and one
// target directory named usb.
func newEngine(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	lib := filepath.Join(dir, "library")
	usb := filepath.Join(dir, "usb")
	for name, content := range map[string]string{"a.mkv": "aaaa", "b.mkv": "bbbbbb"} {
		require.NoError(t, os.MkdirAll(filepath.Join(lib, "films"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(lib, "films", name), []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(usb, 0o755))

	cfg := &config.Config{
		Performance: config.PerformanceConfig{RetryAttempts: 1},
		Daemon: config.DaemonConfig{
			DBPath:      filepath.Join(dir, "state", "db"),
			ManifestDir: filepath.Join(dir, "state", "manifests"),
		},
		Sources: []catalog.Spec{{Name: "nas", Type: catalog.TypeFS, Path: lib}},
		Targets: []config.TargetConfig{{Name: "usb", Path: usb}},
		ContentTypes: []config.ContentTypeConfig{{
			Name:      "movies",
			Source:    "nas",
			Target:    "usb",
			LocalPath: "movies",
			MaxSize:   "1MB",
		}},
	}
	prober := target.ProberFunc(func(context.Context, string) (target.ProbeResult, error) {
		return target.ProbeResult{Capacity: 1 << 30, Free: 1 << 30, Writable: true}, nil
	})
	e, err := engine.New(cfg, engine.WithProber(prober))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, usb
}

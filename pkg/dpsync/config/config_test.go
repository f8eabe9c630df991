package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/filter"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
)

const sample = `
performance:
  max_concurrent_transfers: 4
  bandwidth_limit: 10MB/s
  retry_attempts: 5
  retry_delay: 500ms
sources:
  - name: library
    type: fs
    path: /srv/media
  - name: kiwix
    type: mirrors
    mirrors:
      - {name: a, type: http, url: "http://a.example/zim"}
      - {name: b, type: http, url: "http://b.example/zim"}
targets:
  - name: usb
    path: /media/usb
    min_free: 1GB
    busy_policy: reject
    interval: 1h
  - name: nas
    path: /mnt/nas
    enabled: false
content_types:
  - name: movies
    source: library
    target: usb
    local_path: movies
    max_size: 8GB
    delete_extras: true
    filters:
      and:
        - {attribute: ext, operator: in, values: [mkv, mp4]}
      or:
        - {attribute: year, operator: gte, value: "2000"}
    priorities:
      - {attribute: rating, operator: gte, value: "8", weight: 10}
    category_limits:
      - {attribute: series, max_items: 2, max_bytes: 4GB}
    wanted: [Alien]
  - name: wiki
    source: kiwix
    target: usb
    local_path: wiki
    max_size: 20GB
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Performance.MaxConcurrentTransfers)
	assert.Equal(t, 500*time.Millisecond, cfg.Performance.RetryDelay)
	assert.Equal(t, DefaultProgressInterval, cfg.Performance.ProgressInterval)
	bw, err := cfg.BandwidthLimit()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bw)

	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)

	require.Len(t, cfg.Sources, 2)
	require.Len(t, cfg.Sources[1].Mirrors, 2)
	assert.Equal(t, "http://b.example/zim", cfg.Sources[1].Mirrors[1].URL)

	usb, ok := cfg.Target("usb")
	require.True(t, ok)
	assert.True(t, usb.IsEnabled())
	assert.Equal(t, time.Hour, usb.Interval)
	free, err := usb.MinFreeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), free)
	nas, _ := cfg.Target("nas")
	assert.False(t, nas.IsEnabled())

	cts := cfg.ContentTypesFor("usb")
	require.Len(t, cts, 2)
	movies := cts[0]
	budget, err := movies.Budget()
	require.NoError(t, err)
	assert.Equal(t, int64(8_000_000_000), budget)
	require.Len(t, movies.Filters.And, 1)
	assert.Equal(t, filter.OpIn, movies.Filters.And[0].Operator)
	assert.Equal(t, []string{"mkv", "mp4"}, movies.Filters.And[0].Values)
	require.Len(t, movies.Priorities, 1)
	assert.Equal(t, "rating", movies.Priorities[0].Attribute)
	assert.InDelta(t, 10.0, movies.Priorities[0].Weight, 0.001)
	limits, err := movies.Limits()
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000_000), limits[0].MaxBytes)
	assert.Equal(t, []string{"Alien"}, movies.Wanted)
	assert.InDelta(t, DefaultMatchThreshold, movies.Threshold(), 0.001)
	assert.Empty(t, cfg.ContentTypesFor("nas"))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Equal(t, DefaultMaxConcurrent, cfg.Performance.MaxConcurrentTransfers)
	assert.Equal(t, DefaultHistorySize, cfg.Daemon.HistorySize)
	assert.Equal(t, retry.DefaultBreakerConfig(), cfg.Breaker)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	var re *retry.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, retry.CategoryConfiguration, re.Category)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DPSYNC_PERFORMANCE_MAX_CONCURRENT_TRANSFERS", "9")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Performance.MaxConcurrentTransfers)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, sample))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.ContentTypes[0].Source = "nope" }},
		{"unknown target", func(c *Config) { c.ContentTypes[0].Target = "nope" }},
		{"missing max size", func(c *Config) { c.ContentTypes[0].MaxSize = "" }},
		{"bad max size", func(c *Config) { c.ContentTypes[0].MaxSize = "lots" }},
		{"push direction", func(c *Config) { c.ContentTypes[0].Direction = "push" }},
		{"escaping local path", func(c *Config) { c.ContentTypes[0].LocalPath = "../outside" }},
		{"overlapping local paths", func(c *Config) { c.ContentTypes[1].LocalPath = "movies/wiki" }},
		{"bad operator", func(c *Config) { c.ContentTypes[0].Filters.And[0].Operator = "like" }},
		{"negative weight", func(c *Config) { c.ContentTypes[0].Priorities[0].Weight = -1 }},
		{"bad busy policy", func(c *Config) { c.Targets[0].BusyPolicy = "maybe" }},
		{"bad min free", func(c *Config) { c.Targets[0].MinFree = "some" }},
		{"duplicate target", func(c *Config) { c.Targets[1].Name = "usb" }},
		{"duplicate source", func(c *Config) { c.Sources[1].Name = "library" }},
		{"bad bandwidth", func(c *Config) { c.Performance.BandwidthLimit = "fast" }},
		{"missing target path", func(c *Config) { c.Targets[0].Path = "" }},
		{"threshold out of range", func(c *Config) { c.ContentTypes[0].MatchThreshold = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.False(t, retry.IsRetryable(err), "configuration errors are not retryable")
			assert.Equal(t, string(retry.CategoryConfiguration), retry.CategoryOf(err))
		})
	}
}

func TestCleanRelPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"movies":    "movies",
		"movies/":   "movies",
		"./a//b":    "a/b",
		"":          "",
		".":         "",
		"/abs":      "",
		"../x":      "",
		"a/../../x": "",
		`win\path`:  "win/path",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanRelPath(in), in)
	}
}

func TestWriteDefaultLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := filepath.Join(t.TempDir(), "dpsync", "config.yaml")

	got, err := WriteDefault(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	cfg, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRetryMaxDelay, cfg.Performance.RetryMaxDelay)
	require.Len(t, cfg.ContentTypes, 1)

	require.NoError(t, os.WriteFile(p, []byte("performance: {}\n"), 0o644))
	_, err = WriteDefault(p)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "performance: {}\n", string(data), "existing file is kept")

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "content_types:")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/filter"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
)

const appName = "dpsync"

// PerformanceConfig bounds transfer concurrency, bandwidth and retries.
type PerformanceConfig struct {
	MaxConcurrentTransfers int           `mapstructure:"max_concurrent_transfers" yaml:"max_concurrent_transfers"`
	BandwidthLimit         string        `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit"` // per second, empty is unlimited
	RetryAttempts          int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay             time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay          time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	ProgressInterval       time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`

	// Verify hashes local files with unknown checksums during the scan.
	Verify bool `mapstructure:"verify" yaml:"verify"`
}

// DaemonConfig configures dpsyncd.
type DaemonConfig struct {
	AutoStart    bool   `mapstructure:"auto_start" yaml:"auto_start"`
	BinaryPath   string `mapstructure:"binary_path" yaml:"binary_path"` // path to dpsyncd, discovered if empty
	Socket       string `mapstructure:"socket" yaml:"socket"`
	PIDPath      string `mapstructure:"pid_path" yaml:"pid_path"`
	DBPath       string `mapstructure:"db_path" yaml:"db_path"`
	ManifestDir  string `mapstructure:"manifest_dir" yaml:"manifest_dir"`
	HTTPAddr     string `mapstructure:"http_addr" yaml:"http_addr"`
	HistorySize  int    `mapstructure:"history_size" yaml:"history_size"`
	ManifestKeep int    `mapstructure:"manifest_keep" yaml:"manifest_keep"`
}

// TargetConfig describes a sync destination.
type TargetConfig struct {
	Name         string        `mapstructure:"name" yaml:"name"`
	Path         string        `mapstructure:"path" yaml:"path"`
	RequireMount bool          `mapstructure:"require_mount" yaml:"require_mount,omitempty"`
	MinFree      string        `mapstructure:"min_free" yaml:"min_free,omitempty"`
	RequiredFS   []string      `mapstructure:"required_fs" yaml:"required_fs,omitempty"`
	BusyPolicy   string        `mapstructure:"busy_policy" yaml:"busy_policy,omitempty"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
	Enabled      *bool         `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the target syncs automatically. Targets are
// enabled unless configured otherwise.
func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// CategoryLimitConfig caps one attribute value within a content type.
type CategoryLimitConfig struct {
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	MaxItems  int    `mapstructure:"max_items" yaml:"max_items,omitempty"`
	MaxBytes  string `mapstructure:"max_bytes" yaml:"max_bytes,omitempty"`
}

// ContentTypeConfig binds a source to a directory on a target under a
// size budget.
type ContentTypeConfig struct {
	Name           string                `mapstructure:"name" yaml:"name"`
	Source         string                `mapstructure:"source" yaml:"source"`
	Target         string                `mapstructure:"target" yaml:"target"`
	Direction      string                `mapstructure:"direction" yaml:"direction,omitempty"`
	LocalPath      string                `mapstructure:"local_path" yaml:"local_path"`
	RemotePath     string                `mapstructure:"remote_path" yaml:"remote_path,omitempty"`
	MaxSize        string                `mapstructure:"max_size" yaml:"max_size"`
	DeleteExtras   bool                  `mapstructure:"delete_extras" yaml:"delete_extras"`
	Filters        filter.Tree           `mapstructure:"filters" yaml:"filters,omitempty"`
	Priorities     []filter.PriorityRule `mapstructure:"priorities" yaml:"priorities,omitempty"`
	CategoryLimits []CategoryLimitConfig `mapstructure:"category_limits" yaml:"category_limits,omitempty"`
	Wanted         []string              `mapstructure:"wanted" yaml:"wanted,omitempty"`
	MatchThreshold float64               `mapstructure:"match_threshold" yaml:"match_threshold,omitempty"`
}

// Config is the whole configuration.
type Config struct {
	Performance  PerformanceConfig   `mapstructure:"performance" yaml:"performance"`
	Breaker      retry.BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	Daemon       DaemonConfig        `mapstructure:"daemon" yaml:"daemon"`
	Logging      logging.Config      `mapstructure:"logging" yaml:"logging"`
	Sources      []catalog.Spec      `mapstructure:"sources" yaml:"sources"`
	Targets      []TargetConfig      `mapstructure:"targets" yaml:"targets"`
	ContentTypes []ContentTypeConfig `mapstructure:"content_types" yaml:"content_types"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("performance.max_concurrent_transfers", DefaultMaxConcurrent)
	v.SetDefault("performance.bandwidth_limit", "")
	v.SetDefault("performance.retry_attempts", DefaultRetryAttempts)
	v.SetDefault("performance.retry_delay", DefaultRetryDelay)
	v.SetDefault("performance.retry_max_delay", DefaultRetryMaxDelay)
	v.SetDefault("performance.progress_interval", DefaultProgressInterval)
	v.SetDefault("performance.verify", false)

	b := retry.DefaultBreakerConfig()
	v.SetDefault("breaker.threshold", b.Threshold)
	v.SetDefault("breaker.window", b.Window)
	v.SetDefault("breaker.cooldown", b.Cooldown)
	v.SetDefault("breaker.half_open_max", b.HalfOpenMax)

	v.SetDefault("daemon.auto_start", true)
	v.SetDefault("daemon.socket", "")   // Empty means DefaultSocketPath
	v.SetDefault("daemon.pid_path", "") // Empty means DefaultPIDPath
	v.SetDefault("daemon.db_path", "")
	v.SetDefault("daemon.manifest_dir", "")
	v.SetDefault("daemon.http_addr", DefaultHTTPAddr)
	v.SetDefault("daemon.history_size", DefaultHistorySize)
	v.SetDefault("daemon.manifest_keep", DefaultManifestKeep)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.components", map[string]string{
		"orchestrator": "info",
		"transfer":     "info",
		"target":       "info",
		"catalog":      "info",
		"retry":        "warn",
	})
}

// Load reads the configuration. An empty path searches
// $XDG_CONFIG_HOME/dpsync/config.yaml and then $HOME/.config/dpsync/config.yaml;
// a missing file there is not an error. Environment variables prefixed with
// DPSYNC_ override scalar settings (DPSYNC_PERFORMANCE_MAX_CONCURRENT_TRANSFERS).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(ConfigDir())
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", appName))
		}
	}

	v.SetEnvPrefix("DPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, retry.New(retry.CategoryConfiguration, "read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, retry.New(retry.CategoryConfiguration, "decode config", err)
	}
	cfg.File = v.ConfigFileUsed()

	for i := range cfg.Targets {
		p, err := ExpandPath(cfg.Targets[i].Path)
		if err != nil {
			return nil, err
		}
		cfg.Targets[i].Path = p
	}
	for i := range cfg.Sources {
		expandSource(&cfg.Sources[i])
	}
	return &cfg, nil
}

func expandSource(s *catalog.Spec) {
	if p, err := ExpandPath(s.Path); err == nil {
		s.Path = p
	}
	for i := range s.Mirrors {
		expandSource(&s.Mirrors[i])
	}
}

// Source returns the source spec with the given name.
func (c *Config) Source(name string) (catalog.Spec, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return catalog.Spec{}, false
}

// Target returns the target with the given name.
func (c *Config) Target(name string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// ContentTypesFor returns the content types synced onto target, in
// configuration order.
func (c *Config) ContentTypesFor(target string) []ContentTypeConfig {
	var out []ContentTypeConfig
	for _, ct := range c.ContentTypes {
		if ct.Target == target {
			out = append(out, ct)
		}
	}
	return out
}

// RetryPolicy derives the retry policy from the performance settings.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Performance.RetryAttempts > 0 {
		p.MaxAttempts = c.Performance.RetryAttempts
	}
	if c.Performance.RetryDelay > 0 {
		p.InitialDelay = c.Performance.RetryDelay
	}
	if c.Performance.RetryMaxDelay > 0 {
		p.MaxDelay = c.Performance.RetryMaxDelay
	}
	return p
}

// ConfigDir returns $XDG_CONFIG_HOME/dpsync.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/dpsync for the database, socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// StateDir returns $XDG_STATE_HOME/dpsync for logs, manifests and the status file.
func StateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "dpsync.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "dpsync.pid")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "dpsync.db")
}

// DefaultManifestDir returns the default manifest journal directory.
func DefaultManifestDir() string {
	return filepath.Join(StateDir(), "manifests")
}

// SocketPath returns the configured socket path or the default.
func (c *Config) SocketPath() string {
	return orDefault(c.Daemon.Socket, DefaultSocketPath())
}

// PIDPath returns the configured PID path or the default.
func (c *Config) PIDPath() string {
	return orDefault(c.Daemon.PIDPath, DefaultPIDPath())
}

// DBPath returns the configured database path or the default.
func (c *Config) DBPath() string {
	return orDefault(c.Daemon.DBPath, DefaultDBPath())
}

// ManifestDir returns the configured manifest directory or the default.
func (c *Config) ManifestDir() string {
	return orDefault(c.Daemon.ManifestDir, DefaultManifestDir())
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	if p, err := ExpandPath(v); err == nil {
		return p
	}
	return v
}

// EnsureDirs creates the data and state directories.
func EnsureDirs() error {
	for _, dir := range []string{DataDir(), StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultConfig = `# dangerprep sync configuration

performance:
  max_concurrent_transfers: %d
  # Bytes per second shared by all transfers, empty for unlimited (e.g. 20MB)
  bandwidth_limit: ""
  retry_attempts: %d
  retry_delay: %s
  retry_max_delay: %s
  progress_interval: %s
  # Hash local files with unknown checksums during each scan
  verify: false

# Circuit breaker applied to every source and mirror
breaker:
  threshold: 5
  window: 1m
  cooldown: 30s
  half_open_max: 1

daemon:
  auto_start: true
  # Empty paths use $XDG_DATA_HOME/dpsync and $XDG_STATE_HOME/dpsync
  socket: ""
  pid_path: ""
  db_path: ""
  manifest_dir: ""
  http_addr: %s
  history_size: %d
  manifest_keep: %d

logging:
  level: info
  # Empty means $XDG_STATE_HOME/dpsync/dpsync.log
  file: ""
  console: ""

sources:
  - name: library
    type: fs
    path: ~/media
  # - name: kiwix
  #   type: mirrors
  #   mirrors:
  #     - {name: kiwix-primary, type: http, url: https://mirror-a.example/zim}
  #     - {name: kiwix-backup, type: http, url: https://mirror-b.example/zim}

targets:
  - name: usb
    path: /media/usb
    require_mount: true
    min_free: 1GB
    busy_policy: queue
    interval: 6h

content_types:
  - name: movies
    source: library
    target: usb
    local_path: movies
    remote_path: movies
    max_size: 64GB
    delete_extras: true
    filters:
      and:
        - {attribute: ext, operator: in, values: [mkv, mp4]}
    priorities:
      - {attribute: rating, operator: gte, value: "8", weight: 10}
    category_limits:
      - {attribute: series, max_items: 5}
`

// WriteDefault writes a commented default config to path, or to
// DefaultConfigPath when path is empty. An existing file is left alone.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(defaultConfig,
		DefaultMaxConcurrent, DefaultRetryAttempts, DefaultRetryDelay, DefaultRetryMaxDelay,
		DefaultProgressInterval, DefaultHTTPAddr, DefaultHistorySize, DefaultManifestKeep)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Package config loads and validates the dpsync configuration: sources,
// targets, content types and the performance, breaker, daemon and logging
// settings.
package config

import "time"

// Default configuration values.
const (
	DefaultMaxConcurrent    = 3
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultRetryMaxDelay    = time.Minute
	DefaultProgressInterval = time.Second
	DefaultHistorySize      = 20
	DefaultManifestKeep     = 10
	DefaultInterval         = 6 * time.Hour
	DefaultPollInterval     = 5 * time.Second
	DefaultMatchThreshold   = 0.6
	DefaultHTTPAddr         = "127.0.0.1:9465"
	DefaultBusyPolicy       = "queue"
	DefaultDirection        = "pull"
)

package config

import (
	"path"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/planner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

func invalid(format string, args ...any) error {
	return retry.Errorf(retry.CategoryConfiguration, format, args...)
}

// Validate checks the whole configuration. Every error is a non-retryable
// configuration error.
func (c *Config) Validate() error {
	if c.Performance.MaxConcurrentTransfers < 0 {
		return invalid("performance.max_concurrent_transfers must not be negative")
	}
	if _, err := c.BandwidthLimit(); err != nil {
		return err
	}

	sources := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return err
		}
		if sources[s.Name] {
			return invalid("duplicate source %q", s.Name)
		}
		sources[s.Name] = true
	}

	targets := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if err := t.validate(); err != nil {
			return err
		}
		if targets[t.Name] {
			return invalid("duplicate target %q", t.Name)
		}
		targets[t.Name] = true
	}

	names := make(map[string]bool, len(c.ContentTypes))
	paths := make(map[string][]string)
	for _, ct := range c.ContentTypes {
		if ct.Name == "" {
			return invalid("content type name is required")
		}
		if names[ct.Name] {
			return invalid("duplicate content type %q", ct.Name)
		}
		names[ct.Name] = true
		if !sources[ct.Source] {
			return invalid("content type %s: unknown source %q", ct.Name, ct.Source)
		}
		if !targets[ct.Target] {
			return invalid("content type %s: unknown target %q", ct.Name, ct.Target)
		}
		if err := ct.validate(); err != nil {
			return err
		}
		local := CleanRelPath(ct.LocalPath)
		for _, other := range paths[ct.Target] {
			if nested(local, other) {
				return invalid("content type %s: local_path %q overlaps another content type on target %s",
					ct.Name, ct.LocalPath, ct.Target)
			}
		}
		paths[ct.Target] = append(paths[ct.Target], local)
	}
	return nil
}

func (t TargetConfig) validate() error {
	if t.Name == "" {
		return invalid("target name is required")
	}
	if t.Path == "" {
		return invalid("target %s: path is required", t.Name)
	}
	switch t.BusyPolicy {
	case "", "queue", "reject":
	default:
		return invalid("target %s: busy_policy must be queue or reject, got %q", t.Name, t.BusyPolicy)
	}
	if _, err := t.MinFreeBytes(); err != nil {
		return err
	}
	if t.Interval < 0 || t.PollInterval < 0 {
		return invalid("target %s: intervals must not be negative", t.Name)
	}
	return nil
}

// MinFreeBytes parses min_free. Empty means zero.
func (t TargetConfig) MinFreeBytes() (int64, error) {
	if t.MinFree == "" {
		return 0, nil
	}
	n, err := types.ParseSize(t.MinFree)
	if err != nil {
		return 0, invalid("target %s: min_free: %v", t.Name, err)
	}
	return n, nil
}

func (ct ContentTypeConfig) validate() error {
	switch strings.ToLower(ct.Direction) {
	case "", "pull":
	default:
		return invalid("content type %s: direction %q is not supported, only pull", ct.Name, ct.Direction)
	}
	if _, err := ct.Budget(); err != nil {
		return err
	}
	if ct.LocalPath != "" && ct.LocalPath != "." && CleanRelPath(ct.LocalPath) == "" {
		return invalid("content type %s: local_path %q must be relative to the target", ct.Name, ct.LocalPath)
	}
	if err := ct.Filters.Validate(); err != nil {
		return invalid("content type %s: filters: %v", ct.Name, err)
	}
	for _, p := range ct.Priorities {
		if err := p.Validate(); err != nil {
			return invalid("content type %s: priorities: %v", ct.Name, err)
		}
	}
	if _, err := ct.Limits(); err != nil {
		return err
	}
	if ct.MatchThreshold < 0 || ct.MatchThreshold > 1 {
		return invalid("content type %s: match_threshold must be within [0,1]", ct.Name)
	}
	return nil
}

// Budget parses max_size.
func (ct ContentTypeConfig) Budget() (int64, error) {
	if ct.MaxSize == "" {
		return 0, invalid("content type %s: max_size is required", ct.Name)
	}
	n, err := types.ParseSize(ct.MaxSize)
	if err != nil {
		return 0, invalid("content type %s: max_size: %v", ct.Name, err)
	}
	return n, nil
}

// Limits converts the category limits for the planner.
func (ct ContentTypeConfig) Limits() ([]planner.CategoryLimit, error) {
	out := make([]planner.CategoryLimit, 0, len(ct.CategoryLimits))
	for _, l := range ct.CategoryLimits {
		if l.Attribute == "" {
			return nil, invalid("content type %s: category limit attribute is required", ct.Name)
		}
		cl := planner.CategoryLimit{Attribute: l.Attribute, MaxItems: l.MaxItems}
		if l.MaxBytes != "" {
			n, err := types.ParseSize(l.MaxBytes)
			if err != nil {
				return nil, invalid("content type %s: category limit %s: %v", ct.Name, l.Attribute, err)
			}
			cl.MaxBytes = n
		}
		if cl.MaxItems < 0 {
			return nil, invalid("content type %s: category limit %s: max_items must not be negative", ct.Name, l.Attribute)
		}
		out = append(out, cl)
	}
	return out, nil
}

// Threshold returns the matcher threshold for wanted names.
func (ct ContentTypeConfig) Threshold() float64 {
	if ct.MatchThreshold == 0 {
		return DefaultMatchThreshold
	}
	return ct.MatchThreshold
}

// BandwidthLimit parses performance.bandwidth_limit in bytes per second.
// Zero means unlimited.
func (c *Config) BandwidthLimit() (int64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(c.Performance.BandwidthLimit), "/s")
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := types.ParseSize(s)
	if err != nil {
		return 0, invalid("performance.bandwidth_limit: %v", err)
	}
	return n, nil
}

// CleanRelPath normalizes a slash-separated path relative to a target root.
// It returns "" for the root itself and for absolute or escaping paths.
func CleanRelPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return ""
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

// nested reports whether one relative directory contains the other. The
// target root contains everything.
func nested(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

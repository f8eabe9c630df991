// Package output renders sync manifests for people and scripts: styled
// and plain tables, csv, tsv, markdown, json, yaml, custom templates and a
// POSIX shell transfer script.
//
// Formatters are registered by name:
//
//	formatter, err := output.Get("table")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromManifest(m, root)); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Row is one manifest entry or rejection flattened for display.
type Row struct {
	Action      string  `json:"action" yaml:"action"`
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Size        int64   `json:"size" yaml:"size"`
	SizeHuman   string  `json:"size_human" yaml:"size_human"`
	Reason      string  `json:"reason" yaml:"reason"`
	Score       float64 `json:"score" yaml:"score"`
	Source      string  `json:"source,omitempty" yaml:"source,omitempty"`
	Remote      string  `json:"remote,omitempty" yaml:"remote,omitempty"`
	Destination string  `json:"destination,omitempty" yaml:"destination,omitempty"`
	Checksum    string  `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Report is the data every formatter renders.
type Report struct {
	Target     string           `json:"target" yaml:"target"`
	ManifestID string           `json:"manifest_id" yaml:"manifest_id"`
	CreatedAt  time.Time        `json:"created_at" yaml:"created_at"`
	Root       string           `json:"root,omitempty" yaml:"root,omitempty"`
	Budget     int64            `json:"budget" yaml:"budget"`
	Planned    int64            `json:"planned" yaml:"planned"`
	Rows       []Row            `json:"rows" yaml:"rows"`
	Rejected   []Row            `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Summary    manifest.Summary `json:"summary" yaml:"summary"`
	Warnings   []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Rejection action label.
const ActionRejected = "reject"

// FromManifest builds a report for m. root is the target directory used
// for destinations; empty leaves destinations relative.
func FromManifest(m *manifest.Manifest, root string) *Report {
	r := &Report{
		Target:     m.Target,
		ManifestID: m.ID,
		CreatedAt:  m.CreatedAt,
		Root:       root,
		Budget:     m.Budget,
		Planned:    m.PlannedSize,
		Rows:       make([]Row, 0, len(m.Entries)),
		Summary:    m.Summary(),
	}
	for _, e := range m.Entries {
		row := newRow(e.Item, string(e.Action), e.Reason, e.Score, root)
		row.Size = e.Size()
		row.SizeHuman = types.FormatSize(row.Size)
		if e.Action == manifest.ActionEvict {
			row.Remote = ""
		}
		r.Rows = append(r.Rows, row)
	}
	for _, rej := range m.Rejected {
		r.Rejected = append(r.Rejected, newRow(rej.Item, ActionRejected, rej.Reason, rej.Score, root))
	}
	if m.Overcommitted {
		r.Warnings = append(r.Warnings, "content that may not be deleted exceeds the budget, nothing is fetched")
	}
	for _, name := range m.Unresolved {
		r.Warnings = append(r.Warnings, fmt.Sprintf("wanted %q matched nothing in the catalog", name))
	}
	return r
}

func newRow(item types.CatalogItem, action, reason string, score float64, root string) Row {
	dest := item.ID
	if root != "" {
		dest = filepath.Join(root, filepath.FromSlash(item.ID))
	}
	return Row{
		Action:      action,
		ID:          item.ID,
		Name:        item.Name,
		Size:        item.Size,
		SizeHuman:   types.FormatSize(item.Size),
		Reason:      reason,
		Score:       score,
		Source:      item.Source,
		Remote:      item.Remote,
		Destination: dest,
		Checksum:    item.Checksum,
	}
}

// Filter returns the rows with the given action.
func (r *Report) Filter(action string) []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Action == action {
			out = append(out, row)
		}
	}
	return out
}

// Formatter renders a report.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps names to formatters.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a formatter.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

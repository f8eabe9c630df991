// Package catalog lists remote content sources and opens item streams.
//
// The engine only depends on the Adapter capability: a filesystem tree,
// an HTTP index, or an ordered set of competing mirrors guarded by
// circuit breakers.
package catalog

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var (
	// ErrNoMirror is returned when every mirror of a set failed or has an
	// open circuit.
	ErrNoMirror = errors.New("no mirror available")

	// ErrNotFound is returned when an item is not present in the source.
	ErrNotFound = errors.New("item not found in catalog")
)

// Adapter is a remote content source.
type Adapter interface {
	// Name identifies the source; it is also the circuit breaker key.
	Name() string

	// List returns a fresh snapshot of the catalog in a stable order.
	List(ctx context.Context) ([]types.CatalogItem, error)

	// Open streams item content starting at offset. The returned offset is
	// where the stream actually starts: 0 when the source cannot seek.
	Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error)
}

// RangeSupport is implemented by adapters that can report whether Open
// honors non-zero offsets.
type RangeSupport interface {
	SupportsRange() bool
}

// SupportsRange reports whether a can resume partial transfers. Adapters
// that don't say are assumed to restart from zero.
func SupportsRange(a Adapter) bool {
	if rs, ok := a.(RangeSupport); ok {
		return rs.SupportsRange()
	}
	return false
}

// Sidecar is the optional metadata file stored next to content as
// "<file>.meta.json" or embedded in an HTTP index.
type Sidecar struct {
	Name       string            `json:"name,omitempty"`
	Checksum   string            `json:"checksum,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SidecarSuffix marks metadata files that are not content.
const SidecarSuffix = ".meta.json"

// displayName derives a name from an item id: base name without extension,
// separators turned into spaces.
func displayName(id string) string {
	base := id
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return strings.NewReplacer("_", " ", ".", " ").Replace(base)
}

// category returns the first path segment of a nested id.
func category(id string) string {
	if i := strings.Index(id, "/"); i > 0 {
		return id[:i]
	}
	return ""
}

// Package types provides the core data types shared by the dangerprep sync engine:
// catalog snapshots, local entries, transfer operations and per-cycle results,
// along with helpers for parsing and formatting byte sizes.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// CatalogItem is one entry of a remote catalog snapshot.
// Items are never mutated after listing; a new cycle lists a new snapshot.
type CatalogItem struct {
	// ID uniquely identifies the item within its source. It doubles as the
	// relative destination path on the target.
	ID string `json:"id"`

	// Name is the human-facing display name.
	Name string `json:"name"`

	// Size is the item size in bytes.
	Size int64 `json:"size"`

	// Checksum is the expected sha256 of the content, hex encoded. Empty when
	// the source does not publish checksums.
	Checksum string `json:"checksum,omitempty"`

	// Attributes holds source-specific metadata such as year, rating, genre,
	// language and category.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Remote is the address the item is fetched from (path or URL).
	Remote string `json:"remote"`

	// Source names the catalog the item came from.
	Source string `json:"source,omitempty"`
}

// Attr returns the attribute value for key. Lookups are case-insensitive on
// the key; the boolean reports whether the attribute is present and non-empty.
func (c CatalogItem) Attr(key string) (string, bool) {
	if v, ok := c.Attributes[key]; ok {
		return v, v != ""
	}
	for k, v := range c.Attributes {
		if strings.EqualFold(k, key) {
			return v, v != ""
		}
	}
	switch strings.ToLower(key) {
	case "name":
		return c.Name, c.Name != ""
	case "id":
		return c.ID, c.ID != ""
	case "size":
		return strconv.FormatInt(c.Size, 10), true
	case "source":
		return c.Source, c.Source != ""
	}
	return "", false
}

// HumanSize returns the item size formatted for display.
func (c CatalogItem) HumanSize() string {
	return FormatSize(c.Size)
}

// LocalEntry describes content already present on a target.
type LocalEntry struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum,omitempty"`
	SyncedAt time.Time `json:"synced_at"`

	// Tracked is set when the engine itself synced the file. Untracked
	// files are never deleted.
	Tracked bool `json:"tracked"`
}

// TransferStatus is the lifecycle of a single transfer operation.
type TransferStatus string

// Transfer statuses.
const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

// TransferOperation tracks one fetch or evict while a manifest executes.
type TransferOperation struct {
	ItemID       string         `json:"item_id"`
	Source       string         `json:"source"`
	Destination  string         `json:"destination"`
	ExpectedSize int64          `json:"expected_size"`
	Transferred  int64          `json:"transferred"`
	Checksum     string         `json:"checksum,omitempty"`
	Status       TransferStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
}

// ItemError records a per-item failure inside a cycle.
type ItemError struct {
	ItemID   string `json:"item_id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Outcome is the terminal state of a cycle.
type Outcome string

// Cycle outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    Outcome       `json:"outcome"`

	Planned    int   `json:"planned"`
	Processed  int   `json:"processed"`
	Fetched    int   `json:"fetched"`
	Evicted    int   `json:"evicted"`
	Kept       int   `json:"kept"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	BytesMoved int64 `json:"bytes_moved"`

	Errors []ItemError `json:"errors,omitempty"`

	// Error is set when the whole cycle aborted.
	Error string `json:"error,omitempty"`

	// Operations holds the final state of every transfer in the cycle.
	Operations []TransferOperation `json:"operations,omitempty"`
}

// AddError appends a per-item failure.
func (r *SyncResult) AddError(itemID, category string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ItemID: itemID, Category: category, Message: err.Error()})
}

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size such as "8GB", "500MiB" or "1024".
// Decimal suffixes (KB, MB, GB) are powers of 1000 and IEC suffixes
// (KiB, MiB, GiB) are powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// FormatSize converts a byte count to a human-readable string using SI units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.Bytes(uint64(-bytes))
	}
	return humanize.Bytes(uint64(bytes))
}

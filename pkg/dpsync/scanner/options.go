package scanner

import (
	"errors"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// PartialSuffix marks an unfinished download next to its destination.
const PartialSuffix = ".dpsync-partial"

// Ledger lists the files the engine synced onto a target.
type Ledger interface {
	TrackedEntries(target string) ([]types.LocalEntry, error)
}

// Cache memoizes file checksums by path, size and modification time.
type Cache interface {
	LookupChecksum(path string, size int64, mtime time.Time) (string, bool)
	PutChecksum(path string, size int64, mtime time.Time, sum string) error
}

// Options configures a scan.
type Options struct {
	// Target names the ledger partition to read.
	Target string

	// Root is the target directory.
	Root string

	// Ledger supplies tracked files. Nil treats every file as untracked.
	Ledger Ledger

	// Cache avoids rehashing unchanged files. Optional.
	Cache Cache

	// Verify hashes files whose checksum is unknown or stale.
	Verify bool
}

// Validate checks required fields.
func (o *Options) Validate() error {
	if o.Root == "" {
		return errors.New("scan root is required")
	}
	return nil
}

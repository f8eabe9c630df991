// Package scanner reads the actual contents of a target at the start of a
// cycle and reconciles them with the ledger of tracked files. The scan is
// authoritative: tracked files that vanished are reported missing and
// files that changed size lose their recorded checksum.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Result is the reconciled view of a target.
type Result struct {
	// Entries holds every content file, tracked or not, ordered by id.
	Entries []types.LocalEntry

	// Missing lists tracked ids whose file is gone.
	Missing []string

	// Partials lists leftover partial downloads.
	Partials []string

	Files    int64
	Bytes    int64
	Hashed   int64
	Duration time.Duration
}

// Tracked returns the tracked entries only.
func (r *Result) Tracked() []types.LocalEntry {
	var out []types.LocalEntry
	for _, e := range r.Entries {
		if e.Tracked {
			out = append(out, e)
		}
	}
	return out
}

type fileInfo struct {
	path  string
	size  int64
	mtime time.Time
}

// Scanner walks one target.
type Scanner struct {
	opts Options

	files  atomic.Int64
	bytes  atomic.Int64
	hashed atomic.Int64

	mu       sync.Mutex
	found    map[string]fileInfo
	partials []string
}

// New creates a scanner.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts, found: make(map[string]fileInfo)}
}

// Scan walks the root and reconciles it with the ledger.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	if err := s.opts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	root := filepath.Clean(s.opts.Root)

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	conf := fastwalk.Config{Follow: false}
	if err := fastwalk.Walk(&conf, root, s.walkCallback(ctx, root)); err != nil {
		return nil, err
	}

	var tracked []types.LocalEntry
	if s.opts.Ledger != nil {
		if tracked, err = s.opts.Ledger.TrackedEntries(s.opts.Target); err != nil {
			return nil, fmt.Errorf("reading ledger: %w", err)
		}
	}

	res := &Result{}
	seen := make(map[string]bool, len(tracked))
	for _, t := range tracked {
		seen[t.ID] = true
		fi, ok := s.found[t.ID]
		if !ok {
			res.Missing = append(res.Missing, t.ID)
			continue
		}
		e := types.LocalEntry{ID: t.ID, Path: fi.path, Size: fi.size, SyncedAt: t.SyncedAt, Tracked: true}
		if fi.size == t.Size {
			e.Checksum = t.Checksum
		}
		if e.Checksum == "" {
			e.Checksum = s.checksum(ctx, fi)
		}
		res.Entries = append(res.Entries, e)
	}
	for id, fi := range s.found {
		if seen[id] {
			continue
		}
		res.Entries = append(res.Entries, types.LocalEntry{
			ID:       id,
			Path:     fi.path,
			Size:     fi.size,
			Checksum: s.checksum(ctx, fi),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Entries, func(i, j int) bool { return res.Entries[i].ID < res.Entries[j].ID })
	sort.Strings(res.Missing)
	sort.Strings(s.partials)
	res.Partials = s.partials
	res.Files = s.files.Load()
	res.Bytes = s.bytes.Load()
	res.Hashed = s.hashed.Load()
	res.Duration = time.Since(start)

	logging.Get("scanner").Debug("scan complete",
		"target", s.opts.Target, "files", res.Files, "bytes", res.Bytes,
		"missing", len(res.Missing), "partials", len(res.Partials), "duration", res.Duration)
	return res, nil
}

// walkCallback returns the callback function for fastwalk.Walk.
func (s *Scanner) walkCallback(ctx context.Context, root string) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logging.Get("scanner").Warn("walk error", "path", path, "error", err)
			return nil
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(d.Name(), PartialSuffix) {
			s.mu.Lock()
			s.partials = append(s.partials, path)
			s.mu.Unlock()
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // vanished mid-walk
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr // outside root
		}
		s.files.Add(1)
		s.bytes.Add(fi.Size())

		s.mu.Lock()
		s.found[filepath.ToSlash(rel)] = fileInfo{path: path, size: fi.Size(), mtime: fi.ModTime()}
		s.mu.Unlock()
		return nil
	}
}

// checksum returns the cached checksum of fi, hashing it when Verify is set.
func (s *Scanner) checksum(ctx context.Context, fi fileInfo) string {
	if s.opts.Cache != nil {
		if sum, ok := s.opts.Cache.LookupChecksum(fi.path, fi.size, fi.mtime); ok {
			return sum
		}
	}
	if !s.opts.Verify || ctx.Err() != nil {
		return ""
	}
	sum, err := HashFile(ctx, fi.path)
	if err != nil {
		logging.Get("scanner").Warn("hash failed", "path", fi.path, "error", err)
		return ""
	}
	s.hashed.Add(1)
	if s.opts.Cache != nil {
		_ = s.opts.Cache.PutChecksum(fi.path, fi.size, fi.mtime, sum)
	}
	return sum
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RemovePartials deletes leftover partial downloads and returns how many
// were removed.
func RemovePartials(paths []string) int {
	n := 0
	for _, p := range paths {
		if err := os.Remove(p); err == nil || errors.Is(err, fs.ErrNotExist) {
			n++
		}
	}
	return n
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

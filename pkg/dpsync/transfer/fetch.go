package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/manifest"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/scanner"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// destination maps an item id onto a path under root.
func destination(root, id string) (string, error) {
	rel := filepath.FromSlash(id)
	if id == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%q: %w", id, ErrUnsafePath)
	}
	return filepath.Join(root, rel), nil
}

// fetch downloads, verifies and installs one item.
func (r *run) fetch(ctx context.Context, e manifest.Entry, op int) {
	item := e.Item
	if ctx.Err() != nil {
		r.fail(op, e, interrupted(ctx, "fetch "+item.ID))
		return
	}

	dest, err := destination(r.t.Path(), item.ID)
	if err != nil {
		r.fail(op, e, retry.New(retry.CategoryValidation, "fetch", err))
		return
	}
	src, ok := r.x.resolve(item)
	if !ok {
		r.fail(op, e, retry.New(retry.CategoryConfiguration, "fetch "+item.ID, fmt.Errorf("%w: %s", ErrNoSource, item.Source)))
		return
	}
	r.setStatus(op, types.TransferInProgress)

	tmp := dest + scanner.PartialSuffix
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		r.fail(op, e, err)
		return
	}

	p := r.x.newProgress(r, op, item)
	resume := catalog.SupportsRange(src)
	err = retry.Do(ctx, r.x.cfg.Policy, "fetch "+item.ID, func(ctx context.Context) error {
		return r.x.download(ctx, src, item, tmp, resume, p)
	})
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			err = interrupted(ctx, "fetch "+item.ID)
		}
		r.fail(op, e, err)
		return
	}

	entry, err := r.x.install(ctx, item, tmp, dest)
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			err = interrupted(ctx, "fetch "+item.ID)
		}
		r.fail(op, e, err)
		return
	}

	if err := r.x.ledger.Track(r.target, entry); err != nil {
		logging.Get("transfer").Warn("cannot record fetched file", "target", r.target, "item", item.ID, "error", err)
	}
	r.complete(op, e, entry.Size)
}

// download copies item into tmp, resuming from the bytes already there
// when the source honors offsets.
func (x *Executor) download(ctx context.Context, src catalog.Adapter, item types.CatalogItem, tmp string, resume bool, p *progress) error {
	var offset int64
	if resume {
		if fi, err := os.Stat(tmp); err == nil {
			offset = fi.Size()
		}
		if item.Size > 0 && offset > item.Size {
			offset = 0
		}
		if item.Size > 0 && offset == item.Size {
			return nil
		}
	}

	rc, start, err := src.Open(ctx, item, offset)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(start); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	if start > 0 {
		logging.Get("transfer").Debug("resuming", "item", item.ID, "offset", start)
	}
	p.reset(start)

	buf := make([]byte, x.cfg.BufferSize)
	if _, err := io.CopyBuffer(&throttledWriter{ctx: ctx, w: f, limiter: x.bandwidth, p: p}, rc, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// install verifies tmp and renames it onto dest.
func (x *Executor) install(ctx context.Context, item types.CatalogItem, tmp, dest string) (types.LocalEntry, error) {
	fi, err := os.Stat(tmp)
	if err != nil {
		return types.LocalEntry{}, err
	}
	if item.Size > 0 && fi.Size() != item.Size {
		return types.LocalEntry{}, retry.New(retry.CategoryValidation, "verify "+item.ID,
			fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, fi.Size(), item.Size))
	}

	sum, err := scanner.HashFile(ctx, tmp)
	if err != nil {
		return types.LocalEntry{}, err
	}
	if item.Checksum != "" && sum != item.Checksum {
		return types.LocalEntry{}, retry.New(retry.CategoryValidation, "verify "+item.ID,
			fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, item.Checksum))
	}

	if err := os.Rename(tmp, dest); err != nil {
		return types.LocalEntry{}, err
	}
	if x.cache != nil {
		if err := x.cache.PutChecksum(dest, fi.Size(), fi.ModTime(), sum); err != nil {
			logging.Get("transfer").Debug("checksum cache write failed", "path", dest, "error", err)
		}
	}

	return types.LocalEntry{
		ID:       item.ID,
		Path:     dest,
		Size:     fi.Size(),
		Checksum: sum,
		SyncedAt: time.Now(),
		Tracked:  true,
	}, nil
}

// evict deletes one tracked file. Files the ledger does not know are left
// alone and counted as skipped.
func (r *run) evict(ctx context.Context, e manifest.Entry, op int) {
	id := e.Item.ID
	if ctx.Err() != nil {
		r.fail(op, e, interrupted(ctx, "evict "+id))
		return
	}
	log := logging.Get("transfer")

	le, tracked, err := r.x.ledger.Tracked(r.target, id)
	if err != nil {
		r.fail(op, e, fmt.Errorf("reading ledger: %w", err))
		return
	}
	if !tracked {
		log.Warn("refusing to delete untracked file", "target", r.target, "item", id)
		r.skip(op, "untracked, not deleted")
		return
	}

	path, err := destination(r.t.Path(), id)
	if err != nil {
		r.fail(op, e, retry.New(retry.CategoryValidation, "evict", err))
		return
	}

	// A file replaced since it was synced is no longer ours.
	fi, err := os.Lstat(path)
	switch {
	case err == nil && (!fi.Mode().IsRegular() || fi.Size() != le.Size):
		log.Warn("refusing to delete modified file", "target", r.target, "item", id,
			"size", fi.Size(), "tracked_size", le.Size)
		if err := r.x.ledger.Untrack(r.target, id); err != nil {
			log.Warn("cannot untrack modified file", "target", r.target, "item", id, "error", err)
		}
		r.skip(op, "modified since sync, not deleted")
		return
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		r.fail(op, e, err)
		return
	}
	r.setStatus(op, types.TransferInProgress)

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.fail(op, e, err)
		return
	}
	removeEmptyParents(filepath.Dir(path), r.t.Path())

	if err := r.x.ledger.Untrack(r.target, id); err != nil {
		log.Warn("cannot untrack evicted file", "target", r.target, "item", id, "error", err)
	}
	if r.x.cache != nil {
		_ = r.x.cache.DeleteChecksum(path)
	}
	r.complete(op, e, le.Size)
}

// removeEmptyParents removes empty directories from dir up to, but not
// including, root.
func removeEmptyParents(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

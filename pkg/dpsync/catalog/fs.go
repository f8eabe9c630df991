package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// FSAdapter serves a directory tree, typically a mounted file server share.
// Item ids are slash-separated paths relative to the root.
type FSAdapter struct {
	name string
	root string
}

// NewFS returns an adapter over root.
func NewFS(name, root string) *FSAdapter {
	return &FSAdapter{name: name, root: filepath.Clean(root)}
}

// Name implements Adapter.
func (a *FSAdapter) Name() string { return a.name }

// Root returns the directory served.
func (a *FSAdapter) Root() string { return a.root }

// SupportsRange implements RangeSupport.
func (a *FSAdapter) SupportsRange() bool { return true }

// List walks the root in parallel and returns items sorted by id. Hidden
// files, sidecars and partial downloads are skipped.
func (a *FSAdapter) List(ctx context.Context) ([]types.CatalogItem, error) {
	info, err := os.Stat(a.root)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", a.name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog %s: %s is not a directory", a.name, a.root)
	}

	var (
		mu    sync.Mutex
		items []types.CatalogItem
	)
	log := logging.Get("catalog")
	conf := fastwalk.Config{Follow: false}

	err = fastwalk.Walk(&conf, a.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn("walk error", "source", a.name, "path", path, "error", err)
			return nil
		}
		base := d.Name()
		if path != a.root && strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(base, SidecarSuffix) || strings.HasSuffix(base, ".dpsync-partial") {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished mid-walk
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return nil //nolint:nilerr // outside root
		}
		item := a.item(filepath.ToSlash(rel), path, fi.Size())

		mu.Lock()
		items = append(items, item)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (a *FSAdapter) item(id, path string, size int64) types.CatalogItem {
	item := types.CatalogItem{
		ID:         id,
		Name:       displayName(id),
		Size:       size,
		Remote:     path,
		Source:     a.name,
		Attributes: map[string]string{},
	}
	if c := category(id); c != "" {
		item.Attributes["category"] = c
	}
	if ext := filepath.Ext(id); ext != "" {
		item.Attributes["ext"] = strings.TrimPrefix(strings.ToLower(ext), ".")
	}

	data, err := os.ReadFile(path + SidecarSuffix)
	if err != nil {
		return item
	}
	var meta Sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		logging.Get("catalog").Warn("ignoring malformed sidecar", "path", path+SidecarSuffix, "error", err)
		return item
	}
	if meta.Name != "" {
		item.Name = meta.Name
	}
	item.Checksum = strings.ToLower(meta.Checksum)
	for k, v := range meta.Attributes {
		item.Attributes[strings.ToLower(k)] = v
	}
	return item
}

// Open implements Adapter. Items listed by another mirror are resolved by id.
func (a *FSAdapter) Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path := item.Remote
	if path == "" || !strings.HasPrefix(path, a.root+string(filepath.Separator)) {
		path = filepath.Join(a.root, filepath.FromSlash(item.ID))
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, retry.New(retry.CategoryValidation, "open "+item.ID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, 0, err
		}
	}
	return f, offset, nil
}

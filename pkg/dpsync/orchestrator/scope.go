package orchestrator

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// scope maps the catalog of a content type onto its directory of the
// target. Remote ids under RemotePath become target ids under LocalPath.
type scope struct {
	ct ContentType
}

// list returns the items of the content type re-keyed by target id.
func (s scope) list(ctx context.Context) ([]types.CatalogItem, error) {
	items, err := s.ct.Source.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.CatalogItem, 0, len(items))
	for _, item := range items {
		rel, ok := within(item.ID, s.ct.RemotePath)
		if !ok {
			continue
		}
		item.ID = join(s.ct.LocalPath, rel)
		out = append(out, item)
	}
	return out, nil
}

// owns reports whether the target id belongs to the content type.
func (s scope) owns(id string) bool {
	_, ok := within(id, s.ct.LocalPath)
	return ok
}

// remoteID maps a target id back to the id the source listed.
func (s scope) remoteID(id string) string {
	rel, _ := within(id, s.ct.LocalPath)
	return join(s.ct.RemotePath, rel)
}

// adapter returns the source with Open translating target ids.
func (s scope) adapter() catalog.Adapter {
	return scopedAdapter{Adapter: s.ct.Source, scope: s}
}

type scopedAdapter struct {
	catalog.Adapter
	scope scope
}

func (a scopedAdapter) SupportsRange() bool { return catalog.SupportsRange(a.Adapter) }

func (a scopedAdapter) Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error) {
	item.ID = a.scope.remoteID(item.ID)
	return a.Adapter.Open(ctx, item, offset)
}

// within strips dir from id. An empty dir contains every id.
func within(id, dir string) (string, bool) {
	if dir == "" {
		return id, true
	}
	rest, ok := strings.CutPrefix(id, dir+"/")
	return rest, ok && rest != ""
}

func join(dir, rel string) string {
	if dir == "" {
		return rel
	}
	return path.Join(dir, rel)
}

// owner returns the content type with the longest local path containing id.
func owner(scopes []scope, id string) (int, bool) {
	best, bestLen := -1, -1
	for i, s := range scopes {
		if s.owns(id) && len(s.ct.LocalPath) > bestLen {
			best, bestLen = i, len(s.ct.LocalPath)
		}
	}
	return best, best >= 0
}

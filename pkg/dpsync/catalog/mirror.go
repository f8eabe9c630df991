package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// stream carries Open's two results through the breaker.
type stream struct {
	rc     io.ReadCloser
	offset int64
}

// Guarded wraps an adapter so every call goes through the named breaker
// and the retry policy.
type Guarded struct {
	inner  Adapter
	reg    *retry.Registry
	policy retry.Policy
}

// Guard returns a guarded adapter keyed by a.Name().
func Guard(a Adapter, reg *retry.Registry, p retry.Policy) *Guarded {
	return &Guarded{inner: a, reg: reg, policy: p}
}

// Name implements Adapter.
func (g *Guarded) Name() string { return g.inner.Name() }

// Unwrap returns the guarded adapter.
func (g *Guarded) Unwrap() Adapter { return g.inner }

// SupportsRange implements RangeSupport.
func (g *Guarded) SupportsRange() bool { return SupportsRange(g.inner) }

// List implements Adapter.
func (g *Guarded) List(ctx context.Context) ([]types.CatalogItem, error) {
	return retry.Call(ctx, g.reg, g.inner.Name(), g.policy, g.inner.List)
}

// Open implements Adapter. It passes the breaker once and leaves retrying
// to the caller, which also has to restart the copy that follows.
func (g *Guarded) Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error) {
	s, err := retry.Admit(g.reg, g.inner.Name(), func() (stream, error) {
		rc, off, err := g.inner.Open(ctx, item, offset)
		return stream{rc, off}, err
	})
	return s.rc, s.offset, err
}

// MirrorSet is an ordered list of interchangeable sources. The mirror that
// last listed successfully is tried first, then the rest in order; an
// unreachable mirror costs one breaker trip, not the whole cycle.
type MirrorSet struct {
	name    string
	mirrors []Adapter
	reg     *retry.Registry
	policy  retry.Policy

	mu   sync.Mutex
	good string
}

// NewMirrorSet returns a set trying mirrors in the given order.
func NewMirrorSet(name string, reg *retry.Registry, p retry.Policy, mirrors ...Adapter) *MirrorSet {
	return &MirrorSet{name: name, mirrors: mirrors, reg: reg, policy: p}
}

// Name implements Adapter.
func (m *MirrorSet) Name() string { return m.name }

// Mirrors returns the mirror names in preference order.
func (m *MirrorSet) Mirrors() []string {
	names := make([]string, len(m.mirrors))
	for i, a := range m.mirrors {
		names[i] = a.Name()
	}
	return names
}

// SupportsRange implements RangeSupport; every mirror must support ranges
// because a resume may land on any of them.
func (m *MirrorSet) SupportsRange() bool {
	for _, a := range m.mirrors {
		if !SupportsRange(a) {
			return false
		}
	}
	return len(m.mirrors) > 0
}

// List implements Adapter.
func (m *MirrorSet) List(ctx context.Context) ([]types.CatalogItem, error) {
	log := logging.Get("catalog")
	var errs []error

	for _, a := range m.ordered("") {
		items, err := retry.Call(ctx, m.reg, a.Name(), m.policy, a.List)
		if err == nil {
			log.Debug("listed mirror", "set", m.name, "mirror", a.Name(), "items", len(items))
			m.mu.Lock()
			m.good = a.Name()
			m.mu.Unlock()
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("mirror unavailable", "set", m.name, "mirror", a.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
	}
	return nil, m.exhausted("list", errs, false)
}

// LastGood returns the mirror that last listed successfully, or "".
func (m *MirrorSet) LastGood() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.good
}

// Open implements Adapter. The mirror that listed the item is tried first.
// Each mirror is asked once; retrying the whole set is left to the caller.
func (m *MirrorSet) Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error) {
	var errs []error
	retryable := false
	for _, a := range m.ordered(item.Source) {
		s, err := retry.Admit(m.reg, a.Name(), func() (stream, error) {
			rc, off, err := a.Open(ctx, item, offset)
			return stream{rc, off}, err
		})
		if err == nil {
			return s.rc, s.offset, nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			continue
		}
		logging.Get("catalog").Warn("mirror open failed", "set", m.name, "mirror", a.Name(), "item", item.ID, "error", err)
		retryable = retryable || retry.IsRetryable(err)
		errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
	}
	return nil, 0, m.exhausted("open "+item.ID, errs, retryable)
}

// ordered returns the mirrors with first, then the last good mirror, ahead
// of the configured order.
func (m *MirrorSet) ordered(first string) []Adapter {
	preferred := []string{first, m.LastGood()}
	out := make([]Adapter, 0, len(m.mirrors))
	seen := make(map[string]bool, len(m.mirrors))
	add := func(a Adapter) {
		if !seen[a.Name()] {
			seen[a.Name()] = true
			out = append(out, a)
		}
	}
	for _, name := range preferred {
		for _, a := range m.mirrors {
			if name != "" && a.Name() == name {
				add(a)
			}
		}
	}
	for _, a := range m.mirrors {
		add(a)
	}
	return out
}

// exhausted reports that no mirror served op. A failed open stays retryable
// when some mirror failed transiently.
func (m *MirrorSet) exhausted(op string, errs []error, retryable bool) error {
	e := retry.New(retry.CategoryNetwork, op, errors.Join(append([]error{ErrNoMirror}, errs...)...))
	if !retryable {
		e.Class = retry.NonRetryable
	}
	return fmt.Errorf("mirror set %s: %w", m.name, e)
}

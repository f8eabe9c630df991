package retry

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Registry owns one Breaker per named dependency. Construct it once and pass
// it to every component that calls out, so they share breaker state.
type Registry struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange []func(name string, from, to State)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStateChange registers a callback invoked on every breaker transition.
// The callback runs while the breaker is locked and must not call back into it.
func WithStateChange(fn func(name string, from, to State)) RegistryOption {
	return func(r *Registry) {
		r.onChange = append(r.onChange, fn)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.normalized(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker for name, creating it on first use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, r.cfg, r.now, r.notify)
	r.breakers[name] = b
	return b
}

func (r *Registry) notify(name string, from, to State) {
	for _, fn := range r.onChange {
		fn(name, from, to)
	}
}

// Snapshot returns the status of every breaker, sorted by name.
func (r *Registry) Snapshot() []BreakerStatus {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]BreakerStatus, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	slices.SortFunc(out, func(a, b BreakerStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Call runs fn through the named breaker and the retry policy. Each retry is
// a separate breaker admission, so an opening breaker stops the retries
// without another attempt reaching the dependency.
func Call[T any](ctx context.Context, reg *Registry, name string, p Policy, fn func(context.Context) (T, error)) (T, error) {
	b := reg.Breaker(name)
	return DoValue(ctx, p, name, func(ctx context.Context) (T, error) {
		if err := b.Allow(); err != nil {
			var zero T
			return zero, err
		}
		v, err := fn(ctx)
		b.Record(err)
		return v, err
	})
}

// Admit runs fn once through the named breaker without retrying. Callers
// that retry the surrounding operation themselves use it so one attempt is
// one admission.
func Admit[T any](reg *Registry, name string, fn func() (T, error)) (T, error) {
	b := reg.Breaker(name)
	if err := b.Allow(); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	b.Record(err)
	return v, err
}

// Wrap returns fn guarded by the named breaker and retry policy.
func Wrap[T any](reg *Registry, name string, p Policy, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Call(ctx, reg, name, p, fn)
	}
}

// WrapErr is Wrap for operations without a result.
func WrapErr(reg *Registry, name string, p Policy, fn func(context.Context) error) func(context.Context) error {
	wrapped := Wrap(reg, name, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return func(ctx context.Context) error {
		_, err := wrapped(ctx)
		return err
	}
}

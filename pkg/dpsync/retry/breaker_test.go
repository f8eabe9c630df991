package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDown = errors.New("mirror down")

func testRegistry(clock *fakeClock, opts ...RegistryOption) *Registry {
	cfg := BreakerConfig{Threshold: 5, Window: time.Minute, Cooldown: 30 * time.Second, HalfOpenMax: 1}
	return NewRegistry(cfg, append([]RegistryOption{WithClock(clock.Now)}, opts...)...)
}

func TestBreakerOpensAndShortCircuits(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := testRegistry(clock).Breaker("mirror-a")

	calls := 0
	fail := func(context.Context) error {
		calls++
		return errDown
	}

	for range 5 {
		assert.ErrorIs(t, b.Execute(context.Background(), fail), errDown)
		clock.Advance(5 * time.Second)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls, "open breaker must not reach the dependency")
}

func TestBreakerHalfOpenAllowsExactlyOneTrial(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := testRegistry(clock).Breaker("media-server")
	for range 5 {
		require.NoError(t, b.Allow())
		b.Record(errDown)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow(), "first trial admitted")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second trial rejected")

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := testRegistry(clock).Breaker("x")
	for range 5 {
		_ = b.Execute(context.Background(), func(context.Context) error { return errDown })
	}
	clock.Advance(31 * time.Second)

	err := b.Execute(context.Background(), func(context.Context) error { return errDown })
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	assert.Equal(t, 2, b.Status().Trips)
}

func TestBreakerSlidingWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := testRegistry(clock).Breaker("x")
	for range 4 {
		require.NoError(t, b.Allow())
		b.Record(errDown)
	}
	clock.Advance(61 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errDown)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Status().Failures)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	b := testRegistry(newFakeClock()).Breaker("x")
	for range 10 {
		_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresValidationErrors(t *testing.T) {
	t.Parallel()

	b := testRegistry(newFakeClock()).Breaker("x")
	for range 10 {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return &StatusError{Code: 404, URL: "http://mirror/x"}
		})
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Status().Failures)
}

func TestRegistrySharesBreakersAndReportsTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []State
	reg := testRegistry(newFakeClock(), WithStateChange(func(_ string, _, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}))

	assert.Same(t, reg.Breaker("a"), reg.Breaker("a"))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Breaker("a").Execute(context.Background(), func(context.Context) error { return errDown })
		}()
	}
	wg.Wait()
	reg.Breaker("b")

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, StateOpen, snap[0].State)
	assert.Equal(t, StateClosed, snap[1].State)

	mu.Lock()
	assert.Equal(t, []State{StateOpen}, transitions)
	mu.Unlock()

	reg.Breaker("a").Reset()
	assert.Equal(t, StateClosed, reg.Breaker("a").State())
}

func TestCallStopsRetryingWhenBreakerOpens(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(BreakerConfig{Threshold: 2, Window: time.Minute, Cooldown: time.Hour})
	calls := 0
	_, err := Call(context.Background(), reg, "mirror", fastPolicy(5), func(context.Context) (string, error) {
		calls++
		return "", New(CategoryNetwork, "list", errDown)
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestWrapReturnsResult(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultBreakerConfig())
	list := Wrap(reg, "catalog", fastPolicy(3), func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	got, err := list(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	calls := 0
	del := WrapErr(reg, "target", fastPolicy(3), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, del(context.Background()))
	assert.Equal(t, 2, calls)
}

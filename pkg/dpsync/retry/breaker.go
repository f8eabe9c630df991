package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes every breaker created by a Registry.
type BreakerConfig struct {
	// Threshold is the number of failures inside Window that opens the breaker.
	Threshold int `mapstructure:"threshold" yaml:"threshold" json:"threshold"`

	Window   time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown" json:"cooldown"`

	// HalfOpenMax is the number of trial calls admitted after the cooldown.
	HalfOpenMax int `mapstructure:"half_open_max" yaml:"half_open_max" json:"half_open_max"`
}

// DefaultBreakerConfig opens after 5 failures within a minute and cools
// down for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Window: time.Minute, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

func (c BreakerConfig) normalized() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = d.HalfOpenMax
	}
	return c
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	Trips    int       `json:"trips"`
	OpenedAt time.Time `json:"opened_at,omitzero"`
}

// Breaker guards one named dependency. It is safe for concurrent use and
// shared by every worker calling that dependency.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	onChange func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	trials   int
	trips    int
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time, onChange func(string, State, State)) *Breaker {
	return &Breaker{
		name:     name,
		cfg:      cfg.normalized(),
		now:      now,
		onChange: onChange,
		state:    StateClosed,
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow admits a call or reports ErrCircuitOpen. Every admitted call must be
// followed by exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.trials = 1
		return nil
	case StateHalfOpen:
		if b.trials < b.cfg.HalfOpenMax {
			b.trials++
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
}

// Record reports the outcome of an admitted call. Cancellation and
// validation errors such as a missing item are not failures of the
// dependency and are not counted.
func (b *Breaker) Record(err error) {
	if err != nil && !countsAgainst(err) {
		b.mu.Lock()
		if b.state == StateHalfOpen && b.trials > 0 {
			b.trials--
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err == nil {
		if b.state == StateHalfOpen {
			b.failures = nil
			b.trials = 0
			b.transition(StateClosed)
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trip(now)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.Threshold {
			b.trip(now)
		}
	}
}

func countsAgainst(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return Classify(err).Category != CategoryValidation
}

func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.trials = 0
	b.trips++
	b.transition(StateOpen)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.prune(now)
	state := b.state
	if state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		state = StateHalfOpen
	}
	return BreakerStatus{
		Name:     b.name,
		State:    state,
		Failures: len(b.failures),
		Trips:    b.trips,
		OpenedAt: b.openedAt,
	}
}

// Reset forces the breaker closed and forgets recorded failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.trials = 0
	b.transition(StateClosed)
}

package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries for retryable errors.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`

	// ConditionalAttempts caps tries for conditionally retryable errors
	// (device, filesystem, resource) before escalating.
	ConditionalAttempts int `mapstructure:"conditional_attempts" yaml:"conditional_attempts" json:"conditional_attempts"`

	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`

	// Jitter is the randomization factor applied to each delay, 0 disables it.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		ConditionalAttempts: 2,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
		Multiplier:          2,
		Jitter:              0.1,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.ConditionalAttempts <= 0 || p.ConditionalAttempts > p.MaxAttempts {
		p.ConditionalAttempts = min(d.ConditionalAttempts, p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = max(d.MaxDelay, p.InitialDelay)
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	return b
}

// DoValue runs op until it succeeds, returns a non-retryable error, or
// exhausts the policy. The delay between tries is exponential and observes
// ctx cancellation.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	log := logging.Get("retry")
	attempt := 0

	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		classified := Classify(err)
		switch classified.Class {
		case NonRetryable:
			return v, backoff.Permanent(err)
		case Conditionally:
			if attempt >= p.ConditionalAttempts {
				log.Warn("escalating after conditional retries", "op", name, "attempts", attempt, "category", classified.Category)
				return v, backoff.Permanent(err)
			}
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("retrying", "op", name, "attempt", attempt, "delay", next, "error", err)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}

// Do is DoValue for operations without a result.
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

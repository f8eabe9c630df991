package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:         attempts,
		ConditionalAttempts: 2,
		InitialDelay:        time.Millisecond,
		MaxDelay:            2 * time.Millisecond,
		Multiplier:          2,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(5), "op", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, New(CategoryNetwork, "get", errors.New("reset"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(4), "op", func(context.Context) error {
		calls++
		return New(CategoryTimeout, "get", errors.New("slow"))
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, CategoryTimeout, Classify(err).Category)
}

func TestDoNonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		calls++
		return New(CategoryValidation, "check", errors.New("size mismatch"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "validation check: size mismatch", err.Error())
}

func TestDoConditionalEscalates(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		calls++
		return syscall.EIO
	})
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyNormalized(t *testing.T) {
	t.Parallel()

	p := Policy{}.normalized()
	assert.Equal(t, DefaultPolicy().MaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultPolicy().InitialDelay, p.InitialDelay)

	p = Policy{MaxAttempts: 1, ConditionalAttempts: 4}.normalized()
	assert.Equal(t, 1, p.ConditionalAttempts)
}

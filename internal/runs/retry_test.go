package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps returns a policy that records delays instead of sleeping.
func recordSleeps(max int, base time.Duration, got *[]time.Duration) Policy {
	return Policy{MaxAttempts: max, BaseDelay: base, sleep: func(_ context.Context, d time.Duration) error {
		*got = append(*got, d)
		return nil
	}}
}

// TestWithRetryBackoff fails twice then succeeds; delays double.
func TestWithRetryBackoff(t *testing.T) {
	t.Parallel()
	var sleeps []time.Duration
	calls := 0
	err := WithRetry(context.Background(), recordSleeps(3, 100*time.Millisecond, &sleeps), "load batch", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps)
}

// TestWithRetryExhausted names the operation and keeps the last cause.
func TestWithRetryExhausted(t *testing.T) {
	t.Parallel()
	var sleeps []time.Duration
	cause := errors.New("deadlock detected")
	err := WithRetry(context.Background(), recordSleeps(3, time.Second, &sleeps), "load batch #2", func(context.Context) error {
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "load batch #2 failed after 3 attempts: deadlock detected", err.Error())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

// TestWithRetryPermanent stops after the first attempt.
func TestWithRetryPermanent(t *testing.T) {
	t.Parallel()
	var sleeps []time.Duration
	cause := errors.New("constraint violation")
	calls := 0
	err := WithRetry(context.Background(), recordSleeps(5, time.Second, &sleeps), "op", func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	assert.Same(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
	assert.Nil(t, Permanent(nil))
}

// TestWithRetryContextCanceled returns promptly once ctx is done.
func TestWithRetryContextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour}, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

// TestPolicyDelay checks the exponential schedule.
func TestPolicyDelay(t *testing.T) {
	t.Parallel()
	p := Policy{BaseDelay: 50 * time.Millisecond}
	for attempt, want := range map[int]time.Duration{0: 50 * time.Millisecond, 1: 50 * time.Millisecond, 2: 100 * time.Millisecond, 4: 400 * time.Millisecond} {
		if got := p.Delay(attempt); got != want {
			t.Fatalf("Delay(%d) = %v; want %v", attempt, got, want)
		}
	}
}

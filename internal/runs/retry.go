package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
)

// ErrRetriesExhausted is matched (errors.Is) by errors returned from WithRetry
// after the last attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryError is returned by WithRetry when every attempt failed. It unwraps
// to both ErrRetriesExhausted and the last underlying error.
type RetryError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithRetry returns it (unwrapped)
// after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Policy bounds WithRetry. The delay before attempt n+1 is BaseDelay×2^(n−1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// PolicyFrom reads the retry settings of cfg.
func PolicyFrom(cfg config.RuntimeConfig) Policy {
	return Policy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// WithRetry calls fn until it succeeds, returns a Permanent error, ctx ends,
// or p.MaxAttempts attempts have failed. op names the operation in logs,
// metrics and the final error.
func WithRetry(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
		last = err
		log.Printf("runs: %s failed attempt=%d/%d err=%v", op, attempt, attempts, err)
		if attempt == attempts {
			break
		}
		metrics.RecordRetry(op)
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return &RetryError{Op: op, Attempts: attempts, Err: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

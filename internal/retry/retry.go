// Package retry wraps collaborator calls in a bounded retry loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures the retry loop.
type Policy struct {
	// MaxAttempts includes the first call.
	MaxAttempts int
	// Backoff returns the wait before the given retry (attempt starts at 1).
	Backoff func(attempt int, err error) time.Duration
	// Retryable decides whether an error deserves another attempt.
	Retryable func(err error) bool
}

// Linear waits step × attempt, the classic rate-limit backoff.
func Linear(step time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Constant waits the same delay between attempts.
func Constant(delay time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration {
		return delay
	}
}

// policyBackOff adapts a Policy to backoff.BackOff. The wait depends on the
// error of the attempt that just failed, so the operation records it first.
type policyBackOff struct {
	wait    func(int, error) time.Duration
	attempt int
	lastErr error
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.wait == nil {
		return 0
	}
	d := b.wait(b.attempt, b.lastErr)
	if d < 0 {
		return 0
	}
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	bo := &policyBackOff{wait: p.Backoff}
	permanent := false
	op := func() (T, error) {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		bo.lastErr = err
		if p.Retryable == nil || !p.Retryable(err) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	switch {
	case err == nil:
		return out, nil
	case permanent:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Unwrap()
		}
		return zero, err
	case ctx.Err() != nil:
		return zero, context.Cause(ctx)
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

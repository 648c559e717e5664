// Package retry provides the single retry policy shared by allowance
// re-checks, approval confirmation and order submission. One policy object
// replaces the ad-hoc loops the individual call sites used to carry.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // base delay between attempts
	Backoff     bool          // exponential (2^n · Delay) instead of fixed
	// Retryable decides whether an error is transient. nil retries
	// everything; terminal errors (e.g. exchange rejections) must return
	// false so they surface immediately.
	Retryable func(error) bool
}

// Fixed returns a policy with a fixed delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a policy with exponential backoff.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: base, Backoff: true}
}

// WithRetryable returns a copy of the policy with the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Do runs fn until it succeeds, a non-retryable error occurs, the attempts
// are exhausted, or the context is cancelled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, attempt-1); err != nil {
				return err
			}
		}

		last = fn()
		if last == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, last)
}

// wait sleeps for the attempt's delay, respecting the context.
func (p Policy) wait(ctx context.Context, attempt int) error {
	d := p.Delay
	if p.Backoff {
		d = time.Duration(math.Pow(2, float64(attempt))) * p.Delay
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffPolicy controls retry behavior for calls to external stores and
// model backends. Retries apply only to errors the Retryable predicate
// classifies as transient; validation and configuration failures must never
// be retried.
type BackoffPolicy struct {
	MaxRetries int           // additional attempts after the first (default 3)
	BaseDelay  time.Duration // first backoff delay (default 250ms)
	MaxDelay   time.Duration // per-attempt delay ceiling (default 5s)
	MaxWindow  time.Duration // total time spent sleeping across all attempts (default 20s)
	Retryable  func(error) bool
}

// DefaultBackoff returns the shared retry policy used at every external-call
// boundary. The classification predicate is supplied by the caller so each
// boundary can decide what counts as transient.
func DefaultBackoff(retryable func(error) bool) BackoffPolicy {
	return BackoffPolicy{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		MaxWindow:  20 * time.Second,
		Retryable:  retryable,
	}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.MaxWindow <= 0 {
		p.MaxWindow = 20 * time.Second
	}
	return p
}

// delay computes the backoff for attempt (0-based) with full jitter.
func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return time.Duration(rand.Int64N(int64(d)) + int64(d)/2)
}

// RetryBackoff calls fn until it succeeds, returns a non-retryable error,
// exhausts the retry budget, or ctx is done. The first attempt is always
// made; up to MaxRetries further attempts follow with exponential backoff
// and jitter, bounded by the total MaxWindow. Only the outer ctx stops the
// loop: a deadline raised by a per-call context inside fn is classified by
// the Retryable predicate like any other failure.
func RetryBackoff[T any](ctx context.Context, policy BackoffPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p := policy.normalized()

	var lastErr error
	slept := time.Duration(0)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == p.MaxRetries {
			break
		}
		d := p.delay(attempt)
		if slept+d > p.MaxWindow {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(d):
			slept += d
		}
	}
	return zero, lastErr
}

// RetryBackoffErr is RetryBackoff for functions that only return an error.
func RetryBackoffErr(ctx context.Context, policy BackoffPolicy, fn func(context.Context) error) error {
	_, err := RetryBackoff(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry calls fn up to maxTries times until it returns a nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErr calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func RetryErr(maxTries int, fn func() error) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

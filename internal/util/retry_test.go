package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retryable func(error) bool) BackoffPolicy {
	return BackoffPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		MaxWindow:  time.Second,
		Retryable:  retryable,
	}
}

func TestRetryBackoffSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryBackoff(context.Background(), fastPolicy(nil),
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: got %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Fatalf("unexpected call count: got %d, want 3", calls)
	}
}

func TestRetryBackoffStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad configuration")
	calls := 0
	_, err := RetryBackoff(context.Background(),
		fastPolicy(func(err error) bool { return !errors.Is(err, fatal) }),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, fatal
		})
	if !errors.Is(err, fatal) {
		t.Fatalf("unexpected error: got %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried: got %d calls", calls)
	}
}

func TestRetryBackoffExhaustsBudget(t *testing.T) {
	transient := errors.New("still down")
	calls := 0
	_, err := RetryBackoff(context.Background(), fastPolicy(nil),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, transient
		})
	if !errors.Is(err, transient) {
		t.Fatalf("unexpected error: got %v, want %v", err, transient)
	}
	if calls != 4 {
		t.Fatalf("unexpected call count: got %d, want 4 (1 + 3 retries)", calls)
	}
}

func TestRetryBackoffHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryBackoff(ctx, fastPolicy(nil),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("transient")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: got %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("cancelled context must skip the call: got %d calls", calls)
	}
}

func TestRetryBackoffRetriesInnerDeadline(t *testing.T) {
	calls := 0
	result, err := RetryBackoff(context.Background(),
		fastPolicy(func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }),
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				// A per-call deadline inside the attempt, not the outer ctx.
				return "", context.DeadlineExceeded
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: got %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Fatalf("inner deadline must be retried: got %d calls, want 3", calls)
	}
}

func TestRetryBackoffStopsWhenOuterContextExpires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryBackoff(ctx, fastPolicy(nil),
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, context.DeadlineExceeded
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("expired outer context must stop the loop: got %d calls", calls)
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	result, err := Retry(3, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("unexpected result: got %d, want 42", result)
	}
}

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryConfig_ForErrorClass(t *testing.T) {
	base := DefaultRetryConfig()

	if got := base.ForErrorClass(ErrorClassServer); got != base {
		t.Errorf("server config = %+v, want %+v", got, base)
	}
	if got := base.ForErrorClass(ErrorClassNetwork); got.InitialBackoff != 2*base.InitialBackoff {
		t.Errorf("network initial backoff = %v", got.InitialBackoff)
	}
	rl := base.ForErrorClass(ErrorClassRateLimit)
	if rl.InitialBackoff != 4*base.InitialBackoff || rl.MaxBackoff != 2*base.MaxBackoff {
		t.Errorf("rate limit config = %+v", rl)
	}

	zero := RetryConfig{}.ForErrorClass(ErrorClassServer)
	if zero.MaxAttempts != 1 || zero.BackoffMultiplier != 1 {
		t.Errorf("zero config = %+v, want a single attempt", zero)
	}
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() error {
		calls++
		return nil
	}, classifyError)

	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryWithBackoff_RetriesServerErrors(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return &APIError{StatusCode: 502, Class: ErrorClassServer}
		}
		return nil
	}, classifyError)

	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_DoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	notFound := &APIError{StatusCode: 404, Class: ErrorClassClient}
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() error {
		calls++
		return notFound
	}, classifyError)

	if !errors.Is(err, notFound) {
		t.Errorf("err = %v, want the client error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() error {
		calls++
		return &APIError{StatusCode: 500, Class: ErrorClassServer}
	}, classifyError)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Errorf("last error not preserved: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_ContextCancelledDuringBackoff(t *testing.T) {
	policy := fastRetry()
	policy.InitialBackoff = time.Second
	policy.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryWithBackoff(ctx, zerolog.Nop(), policy, func() error {
		return &APIError{StatusCode: 503, Class: ErrorClassServer}
	}, classifyError)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("err = %v, want ErrContextCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("backoff not interrupted, took %v", elapsed)
	}
}

package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForErrorClass scales the backoff for an error class. Network errors wait
// twice as long, rate limit answers four times as long.
func (rc RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	scaled := rc
	switch errorClass {
	case ErrorClassNetwork:
		scaled.InitialBackoff *= 2
	case ErrorClassRateLimit:
		scaled.InitialBackoff *= 4
		scaled.MaxBackoff *= 2
	}
	if scaled.MaxAttempts < 1 {
		scaled.MaxAttempts = 1
	}
	if scaled.BackoffMultiplier < 1 {
		scaled.BackoffMultiplier = 1
	}
	return scaled
}

// retryWithBackoff executes fn with exponential backoff. classify is called
// on each failure; the class picks the backoff and decides whether to retry.
// Jitter of ±20% is added to every wait.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, policy RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	var (
		lastErr    error
		errorClass ErrorClass
		backoff    time.Duration
	)

	attempts := policy.ForErrorClass("").MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if isContextError(ctx, err) {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		class := classify(err)
		if !shouldRetry(class) {
			return lastErr
		}

		config := policy.ForErrorClass(class)
		if class != errorClass || backoff == 0 {
			backoff = config.InitialBackoff
			errorClass = class
		}

		if attempt >= attempts {
			break
		}

		httpRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		httpRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	httpRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_rate_limit_remaining",
		Help: "Requests remaining in the current feed API rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the rate limit was exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the rate limit was nearly exhausted",
	})
)

// DefaultThrottleDelay is the pause before a request in the warning band.
const DefaultThrottleDelay = time.Second

// stateGrace keeps the shared state around briefly after the window resets.
const stateGrace = 5 * time.Minute

// Tracker shares the quota state through Redis and gates requests.
type Tracker struct {
	redis    *redis.Client
	logger   zerolog.Logger
	throttle time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThrottleDelay overrides DefaultThrottleDelay.
func WithThrottleDelay(d time.Duration) Option {
	return func(t *Tracker) {
		t.throttle = d
	}
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		redis:    redisClient,
		logger:   logger,
		throttle: DefaultThrottleDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState retrieves the shared state from Redis.
// Returns DefaultState if no response has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, RedisKeyState).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Msg("No rate limit state in Redis, assuming healthy")
		return DefaultState(), nil
	}

	remaining, err := strconv.Atoi(fields["remaining"])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(fields["last_update"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}
	limit, _ := strconv.Atoi(fields["limit"])

	state := &State{
		Remaining:  remaining,
		Limit:      limit,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: time.UnixMilli(lastUpdate),
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders records the quota announced by a response.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, statusCode int, headers http.Header) error {
	state, ok, err := ParseHeaders(statusCode, headers, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return t.store(ctx, state)
}

func (t *Tracker) store(ctx context.Context, state *State) error {
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, RedisKeyState, map[string]interface{}{
		"remaining":   state.Remaining,
		"limit":       state.Limit,
		"reset_at":    state.ResetAt.Unix(),
		"last_update": state.LastUpdate.UnixMilli(),
	})
	pipe.ExpireAt(ctx, RedisKeyState, state.ResetAt.Add(stateGrace))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Feed API rate limit exhausted - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Feed API rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Feed API rate limit state updated")
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. It returns
// false while the window is exhausted, and waits DefaultThrottleDelay (or
// until ctx is done) in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Feed API rate limit exhausted - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.throttle > 0 {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttle).
			Msg("Feed API rate limit low - throttling request")
		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}

// Reset clears the shared state.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyState).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}

// Package ratelimit tracks the feed API's request quota and gates requests.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers, and
// Retry-After on 429 responses, and shares the resulting state between client
// instances through Redis.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Redis key of the shared state hash.
const RedisKeyState = "feed:rate_limit:state"

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests when remaining falls below this value.
	ThresholdCritical = 2

	// ThresholdWarning throttles requests when remaining falls below this value.
	ThresholdWarning = 10

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 30
)

// Header names read from API responses.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// epochCutoff separates "seconds until reset" from absolute unix timestamps in
// X-RateLimit-Reset.
const epochCutoff = 1_000_000_000

// State is the request quota of the current window.
type State struct {
	// Remaining is the number of requests left in the window.
	Remaining int `json:"remaining"`

	// Limit is the window size, 0 when the server did not say.
	Limit int `json:"limit"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was derived from a response.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// DefaultState is assumed until a response carried quota headers.
func DefaultState() *State {
	now := time.Now()
	return &State{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true while requests must not be sent. A window
// that has already reset never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, 0 if it
// already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// ParseHeaders derives the quota state from a response. ok is false when the
// response carries no quota information. A 429 with Retry-After exhausts the
// window until the announced time.
func ParseHeaders(statusCode int, headers http.Header, now time.Time) (state *State, ok bool, err error) {
	if statusCode == http.StatusTooManyRequests {
		wait := 60 * time.Second
		if ra := headers.Get(HeaderRetryAfter); ra != "" {
			d, err := parseRetryAfter(ra, now)
			if err != nil {
				return nil, false, err
			}
			wait = d
		}
		s := &State{Remaining: 0, ResetAt: now.Add(wait), LastUpdate: now}
		if limit, err := strconv.Atoi(headers.Get(HeaderLimit)); err == nil {
			s.Limit = limit
		}
		s.UpdateHealth()
		return s, true, nil
	}

	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, false, nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	s := &State{Remaining: remain, LastUpdate: now}
	if reset >= epochCutoff {
		s.ResetAt = time.Unix(reset, 0)
	} else {
		s.ResetAt = now.Add(time.Duration(reset) * time.Second)
	}
	if limit, err := strconv.Atoi(headers.Get(HeaderLimit)); err == nil {
		s.Limit = limit
	}
	s.UpdateHealth()
	return s, true, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
	}
	if d := t.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}

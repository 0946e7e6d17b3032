// Package client provides the HTTP client of the feed API with rate limiting,
// caching, retries and request collapsing.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/unifeed/pkg/cache"
	"github.com/Sternrassler/unifeed/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client is the feed API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	limiter     *rate.Limiter
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	retry       RetryConfig
	group       singleflight.Group
	config      Config
	logger      zerolog.Logger

	mu        sync.RWMutex
	authToken string
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://backend.researchhub.com"
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// AuthToken is sent as "Authorization: Token <AuthToken>" when set
	AuthToken string

	// Redis enables the response cache and the shared rate limit state.
	// Without it every request goes to the network.
	Redis *redis.Client

	// Local pacing
	RequestsPerSecond float64
	Burst             int

	// Timeout of a single attempt
	Timeout time.Duration

	// Retry
	MaxRetries     int // attempts including the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	retry := DefaultRetryConfig()
	return Config{
		BaseURL:           baseURL,
		UserAgent:         userAgent,
		RequestsPerSecond: 10,
		Burst:             5,
		Timeout:           30 * time.Second,
		MaxRetries:        retry.MaxAttempts,
		InitialBackoff:    retry.InitialBackoff,
		MaxBackoff:        retry.MaxBackoff,
	}
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the body was served from the cache, fresh or
	// revalidated with a 304.
	FromCache bool
}

// New creates a new feed API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests_per_second must be > 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		retry.MaxBackoff = cfg.MaxBackoff
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		return nil, fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", retry.MaxBackoff, retry.InitialBackoff)
	}

	logger := log.With().Str("component", "feed-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   base,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retry:     retry,
		config:    cfg,
		logger:    logger,
		authToken: cfg.AuthToken,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// SetAuthToken changes the credentials of subsequent requests. An empty
// token makes the client anonymous.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

// LoggedIn reports whether requests carry credentials.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken != ""
}

// Viewer returns the cache scope of the current credentials.
func (c *Client) Viewer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cache.ViewerFromToken(c.authToken)
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// Get performs a GET of a path relative to the base URL or an absolute URL.
// Identical GETs of the same viewer that overlap in time share one request.
// The shared request is not tied to any caller's cancellation; each caller
// stops waiting on its own context and the request is bounded by Timeout.
func (c *Client) Get(ctx context.Context, ref string) (*Response, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	key := c.Viewer() + " " + target.String()
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(flightCtx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return c.Do(req)
	})

	select {
	case <-ctx.Done():
		c.logger.Debug().
			Str("url", target.String()).
			Msg("Caller gave up waiting on shared request")
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case res := <-ch:
		if res.Shared {
			httpSharedRequestsTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*Response)
		return &resp, nil
	}
}

func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	return c.baseURL.ResolveReference(u), nil
}

// Do performs an HTTP request with pacing, the shared rate limit, caching and
// retries. Non-2xx answers are returned as *APIError.
func (c *Client) Do(req *http.Request) (*Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: local pacing
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	// Step 2: shared rate limit
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case err != nil:
			// Redis trouble must not take the feed down with it.
			c.logger.Warn().Err(err).Msg("Rate limit check failed - allowing request")
		case !allowed:
			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Request blocked by rate limiter")
			httpRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			httpErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &APIError{
				StatusCode: http.StatusTooManyRequests,
				Class:      ErrorClassRateLimit,
				Message:    "rate limit exhausted",
				Err:        ErrRateLimited,
			}
		}
	}

	// Step 3: cache
	token := c.token()
	cacheKey := cache.KeyForURL(req.URL, cache.ViewerFromToken(token))
	var cachedEntry *cache.Entry
	if c.cache != nil && req.Method == http.MethodGet {
		entry, err := c.cache.Lookup(ctx, cacheKey)
		switch {
		case err == nil && !entry.IsExpired():
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Serving response from cache")
			httpRequestsTotal.WithLabelValues(endpoint, "cached").Inc()
			return responseFromEntry(entry), nil
		case err == nil:
			cachedEntry = entry
			cache.AddConditionalHeaders(req, entry)
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", entry.ETag).
				Msg("Making conditional request")
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	// Step 4: headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	// Step 5: request with retry
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing feed API request")

	var (
		resp *http.Response
		body []byte
	)
	err := retryWithBackoff(ctx, c.logger, c.retry, func() error {
		r, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			httpRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
		}

		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{StatusCode: r.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, r.StatusCode, r.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		httpRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		if class := classifyStatus(r.StatusCode); class != "" {
			httpErrorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", r.StatusCode).
				Str("error_class", string(class)).
				Msg("Feed API request error")
			return &APIError{
				StatusCode: r.StatusCode,
				Class:      class,
				Message:    errorMessage(r.Status, data),
			}
		}

		resp, body = r, data
		return nil
	}, classifyError)
	if err != nil {
		return nil, err
	}

	// Step 6: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		if cachedEntry == nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    "not modified without a cached response",
			}
		}
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")

		refreshed, err := c.cache.Refresh(ctx, cacheKey, cachedEntry, resp.Header)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return responseFromEntry(refreshed), nil
	}

	// Step 7: store
	if c.cache != nil && cache.Cacheable(resp) {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func responseFromEntry(entry *cache.Entry) *Response {
	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{
		StatusCode: status,
		Header:     entry.Headers,
		Body:       entry.Data,
		FromCache:  true,
	}
}

// errorMessage is the status line plus the start of the body.
func errorMessage(status string, body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	if len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return status + ": " + text
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, nil without Redis.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimit returns the shared rate limit tracker, nil without Redis.
func (c *Client) RateLimit() *ratelimit.Tracker {
	return c.rateLimiter
}

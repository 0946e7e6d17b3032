package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrCacheMiss indicates the requested key has no usable entry
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultRetention is how long an expired entry with validators is kept for
// revalidation.
const DefaultRetention = 10 * time.Minute

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis     *redis.Client
	retention time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention overrides DefaultRetention. Zero drops entries as soon as they
// expire.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retention = d
		}
	}
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts ...Option) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{
		redis:     redisClient,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup returns the stored entry for key, fresh or stale. A stale entry is
// only returned when it can be revalidated; otherwise Lookup reports
// ErrCacheMiss.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, error) {
	entry, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}

	if !entry.IsExpired() {
		CacheHits.Inc()
		return entry, nil
	}
	if ShouldMakeConditionalRequest(entry) {
		return entry, nil
	}

	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Get retrieves a fresh cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	entry, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.IsExpired() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.Inc()
	return entry, nil
}

func (m *Manager) load(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set stores a cache entry. Redis drops it after its freshness plus the
// retention window when it carries validators, and right at expiry otherwise.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ShouldMakeConditionalRequest(entry) {
		ttl += m.retention
	}
	if ttl <= 0 {
		// Nothing to serve or revalidate later
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Refresh records a 304 Not Modified for entry: freshness and validators are
// taken from the new response headers and the entry is stored again.
func (m *Manager) Refresh(ctx context.Context, key Key, entry *Entry, headers http.Header) (*Entry, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}

	refreshed := *entry
	refreshed.Expires = parseExpires(headers)
	refreshed.CachedAt = time.Now()
	if etag := headers.Get("ETag"); etag != "" {
		refreshed.ETag = etag
	}
	if lm := headers.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			refreshed.LastModified = t
		}
	}
	NotModified.Inc()

	if err := m.Set(ctx, key, &refreshed); err != nil {
		return &refreshed, err
	}
	return &refreshed, nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

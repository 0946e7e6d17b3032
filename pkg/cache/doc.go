// Package cache stores feed API responses in Redis and supports conditional
// revalidation.
//
// Features:
//
// - Freshness from Cache-Control max-age, falling back to Expires (default 60s)
// - no-store and no-cache responses are never served from cache
// - ETag (If-None-Match) and Last-Modified (If-Modified-Since) revalidation
// - Stale entries are retained for a while so they can be revalidated
// - Keys are scoped per viewer because the feed is personalised
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "/api/researchhub_unified_document/get_unified_documents/",
//		Query:    url.Values{"page": []string{"2"}, "ordering": []string{"hot"}},
//		Viewer:   cache.ViewerFromToken(token),
//	}
//
//	entry, err := manager.Lookup(ctx, key)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// plain request
//	case entry.IsExpired() && cache.ShouldMakeConditionalRequest(entry):
//		cache.AddConditionalHeaders(req, entry)
//	default:
//		// fresh hit, serve entry.Data
//	}
//
// On a 200 response, store it with ResponseToEntry and Set. On a 304, call
// Refresh with the new response headers and serve the cached body.
//
// # Metrics
//
//   - feed_cache_hits_total - fresh entries served
//   - feed_cache_misses_total - lookups without a usable entry
//   - feed_cache_conditional_requests_total - revalidations sent
//   - feed_cache_not_modified_total - 304 responses served from cache
//   - feed_cache_errors_total{operation} - Redis or decoding failures
package cache

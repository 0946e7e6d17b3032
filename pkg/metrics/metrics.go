// Package metrics is the reference point for the Prometheus metrics exported by
// the feed client. Collectors are declared next to the code that updates them
// (feed, client, cache, ratelimit, pagination) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package collector is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered feed metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Feed Controller Metrics (pkg/feed):
//   - feed_fetches_total{kind, outcome} (Counter): page fetches by kind (initial, load_more, prefetch)
//     and outcome (success, failure, stale)
//   - feed_fetch_duration_seconds{kind} (Histogram): gateway latency per fetch kind
//   - feed_stale_results_total (Counter): results discarded because their epoch was superseded
//   - feed_epochs_total{reason} (Counter): epochs started (mount, filters, hydrate)
//   - feed_reveals_total{source} (Counter): reveal advances (buffered, optimistic)
//
// HTTP Gateway Metrics (pkg/client):
//   - feed_http_requests_total{endpoint, status} (Counter)
//   - feed_http_request_duration_seconds{endpoint} (Histogram)
//   - feed_http_errors_total{class} (Counter): client, server, rate_limit, network, decode
//   - feed_http_retries_total{error_class} (Counter)
//   - feed_http_retry_backoff_seconds{error_class} (Histogram)
//   - feed_http_retry_exhausted_total{error_class} (Counter)
//   - feed_http_shared_requests_total (Counter): GETs collapsed onto an in-flight identical GET
//
// Cache Metrics (pkg/cache):
//   - feed_cache_hits_total, feed_cache_misses_total (Counter)
//   - feed_cache_not_modified_total (Counter): 304 responses served from cache
//   - feed_cache_conditional_requests_total (Counter)
//   - feed_cache_errors_total{operation} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - feed_rate_limit_remaining (Gauge)
//   - feed_rate_limit_blocks_total, feed_rate_limit_throttles_total (Counter)
//
// Pagination Metrics (pkg/pagination):
//   - feed_pagination_pages_total{source, outcome} (Counter): next-link and batch page loads
//
// Example Prometheus Queries:
//
//   # Share of fetch results thrown away by filter changes
//   rate(feed_stale_results_total[5m]) / sum(rate(feed_fetches_total[5m]))
//
//   # Users waiting on the network (load-more fetches vs total)
//   sum(rate(feed_fetches_total{kind="load_more"}[5m])) / sum(rate(feed_fetches_total[5m]))
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(feed_fetch_duration_seconds_bucket[5m]))

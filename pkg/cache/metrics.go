package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh entries served
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Total number of fresh feed responses served from cache",
		},
	)

	// CacheMisses tracks lookups without a usable entry
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Total number of feed cache misses",
		},
	)

	// ConditionalRequests tracks revalidation requests sent
	ConditionalRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_conditional_requests_total",
			Help: "Total number of conditional requests sent for stale entries",
		},
	)

	// NotModified tracks 304 responses answered from cache
	NotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses served from cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)

package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_http_requests_total",
		Help: "Total feed API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_http_request_duration_seconds",
		Help:    "Feed API request duration in seconds by endpoint, including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_http_errors_total",
		Help: "Total feed API errors by class",
	}, []string{"class"})

	httpRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_http_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	httpRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_http_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	httpRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_http_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	httpSharedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_http_shared_requests_total",
		Help: "GET requests answered by an identical request already in flight",
	})
)

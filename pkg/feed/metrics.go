package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetches_total",
		Help: "Page fetches issued by feed controllers by kind and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_fetch_duration_seconds",
		Help:    "Gateway latency of feed page fetches by kind",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"kind"})

	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_stale_results_total",
		Help: "Fetch results discarded because a newer epoch had started",
	})

	epochsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_epochs_total",
		Help: "Feed epochs started by reason",
	}, []string{"reason"})

	revealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_reveals_total",
		Help: "Reveal cursor advances by source (buffered, optimistic)",
	}, []string{"source"})
)

package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_pagination_pages_total",
	Help: "Pages loaded through next-link lists and the batch fetcher by outcome",
}, []string{"source", "outcome"})

package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts page requests by phase (locate, paginate).
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_pages_fetched_total",
		Help: "Total number of pages requested by phase",
	}, []string{"phase"})

	// AnchorProbes records how many requests each anchor search needed.
	AnchorProbes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fairing_anchor_probes",
		Help:    "Number of requests spent locating the anchor page",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	// RecordsSkipped counts records dropped because they were already
	// emitted or fall before the time bound.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_records_skipped_total",
		Help: "Total number of records skipped by reason",
	}, []string{"reason"})
)

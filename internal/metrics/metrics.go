package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streams",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streams",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streams",
		Name:      "source_requests_total",
		Help:      "Total source list calls by source name and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streams",
		Name:      "source_request_duration_seconds",
		Help:      "Source list call duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streams",
		Name:      "source_available",
		Help:      "Whether a source is available (1) or blocked by circuit breaker (0).",
	}, []string{"source"})

	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streams",
		Name:      "cache_requests_total",
		Help:      "Cache lookups by cache name and result (hit, store_hit, miss, shared).",
	}, []string{"cache", "result"})

	CacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streams",
		Name:      "cache_evictions_total",
		Help:      "Entries evicted from the in-memory tier by capacity pressure.",
	}, []string{"cache"})

	AggregationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streams",
		Name:      "aggregations_total",
		Help:      "Aggregation runs by outcome (early_stop, exhausted, timeout).",
	}, []string{"outcome"})

	AggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streams",
		Name:      "aggregation_duration_seconds",
		Help:      "Aggregation run duration in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	AggregationStreams = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streams",
		Name:      "aggregation_streams",
		Help:      "Number of streams returned by an aggregation run.",
		Buckets:   []float64{0, 1, 3, 5, 8, 12, 18},
	})

	DebridBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streams",
		Name:      "debrid_batch_size",
		Help:      "Info hashes per debrid availability call.",
		Buckets:   []float64{1, 2, 5, 10, 20, 50},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		CacheRequestsTotal,
		CacheEvictionsTotal,
		AggregationsTotal,
		AggregationDuration,
		AggregationStreams,
		DebridBatchSize,
	)
}

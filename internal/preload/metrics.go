package preload

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "preload",
			Name:      "fetches_total",
			Help:      "Asset fetches by outcome (ok or error kind)",
		},
		[]string{"result"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "preload",
			Name:      "cache_hits_total",
			Help:      "Preloads served from a fresh cache entry",
		},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "preload",
			Name:      "evictions_total",
			Help:      "Cache entries evicted to fit the memory budget",
		},
	)

	cachedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assetd",
			Subsystem: "preload",
			Name:      "cached_mb",
			Help:      "Estimated memory of loaded entries in MB",
		},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assetd",
			Subsystem: "preload",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of asset fetch attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(fetchesTotal, cacheHitsTotal, evictionsTotal, cachedMB, fetchDuration)
}

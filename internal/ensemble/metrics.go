package ensemble

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recalld_ensemble_searches_total",
		Help: "Total ensemble searches served.",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recalld_ensemble_search_duration_seconds",
		Help:    "End-to-end ensemble search latency.",
		Buckets: prometheus.DefBuckets,
	})

	providerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recalld_ensemble_provider_results_total",
		Help: "Candidate results contributed per provider.",
	}, []string{"provider"})

	providerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recalld_ensemble_provider_failures_total",
		Help: "Provider errors and timeouts, isolated from the caller.",
	}, []string{"provider"})

	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recalld_ensemble_provider_duration_seconds",
		Help:    "Per-provider search latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recalld_ensemble_cache_hits_total",
		Help: "Searches answered from the result cache.",
	})
)

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs.
	// Labels: outcome (completed / the errorName of the failure)
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "craftworker_jobs_total",
			Help: "Total number of transcoding jobs by outcome",
		},
		[]string{"outcome"},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "craftworker_job_duration_seconds",
			Help:    "Wall time of a transcoding job from gate acquisition to acknowledgement",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	mergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "craftworker_merge_duration_seconds",
			Help:    "Wall time of the crossfade merge process",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// partCacheRequests counts podcast-part resolutions.
	// Labels: result (hit/miss/error)
	partCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "craftworker_part_cache_requests_total",
			Help: "Podcast part cache lookups by result",
		},
		[]string{"result"},
	)

	// workerBusy 0=idle, 1=running a job
	workerBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "craftworker_worker_busy",
			Help: "Whether the worker currently holds a job (0=idle, 1=busy)",
		},
	)

	cachedParts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "craftworker_cached_parts",
			Help: "Number of podcast parts present in the local cache",
		},
	)
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordJob records a finished job and its wall time.
func RecordJob(outcome string, elapsed time.Duration) {
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.Observe(elapsed.Seconds())
}

// RecordMerge records the wall time of one merge process.
func RecordMerge(elapsed time.Duration) {
	mergeDuration.Observe(elapsed.Seconds())
}

// RecordCacheLookup counts one part cache resolution.
func RecordCacheLookup(result string) {
	partCacheRequests.WithLabelValues(result).Inc()
}

// SetWorkerBusy sets the busy gauge.
func SetWorkerBusy(busy bool) {
	if busy {
		workerBusy.Set(1)
	} else {
		workerBusy.Set(0)
	}
}

// SetCachedParts sets the number of parts in the cache index.
func SetCachedParts(n int) {
	cachedParts.Set(float64(n))
}

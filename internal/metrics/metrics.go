package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful computations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed computations (engine or dependency issues).
	OutcomeError = "error"

	// CacheHit labels cache lookups answered from a live entry.
	CacheHit = "hit"
	// CacheMiss labels lookups that fell through to a computation.
	CacheMiss = "miss"
)

var (
	computationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "computations_total",
			Help:      "Total number of correlation computations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	computationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlation_engine",
			Name:      "computation_seconds",
			Help:      "Correlation computation latency in seconds.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "cache_requests_total",
			Help:      "Correlation cache lookups, partitioned by hit/miss.",
		},
		[]string{"result"},
	)

	batchRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "correlation_engine",
			Name:      "batch_runs_total",
			Help:      "Scheduled recalculation runs completed.",
		},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlation_engine",
			Name:      "batch_seconds",
			Help:      "Scheduled recalculation run duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// Register attaches correlation-engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		computationsTotal,
		computationDurationSeconds,
		cacheRequestsTotal,
		batchRunsTotal,
		batchDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveComputation records a computation duration and outcome label.
func ObserveComputation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	computationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	computationDurationSeconds.Observe(duration.Seconds())
}

// ObserveCache records a cache lookup result.
func ObserveCache(result string) {
	if result != CacheHit {
		result = CacheMiss
	}
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveBatchRun records a completed scheduled recalculation.
func ObserveBatchRun(duration time.Duration) {
	batchRunsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

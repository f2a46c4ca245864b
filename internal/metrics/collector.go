// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes prometheus metrics for the generation cache.
// A nil *Collector is a valid no-op collector.
type Collector struct {
	cacheRequestsTotal         *prometheus.CounterVec
	generationsTotal           *prometheus.CounterVec
	usageIncrementFailures     prometheus.Counter
	resolveDuration            prometheus.Histogram
	generationDuration         prometheus.Histogram
	lockWaitDuration           prometheus.Histogram
	similarityCandidatesScored prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on reg. A nil
// registerer falls back to the default prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.cacheRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of cache resolutions by match type",
		},
		[]string{"match_type"},
	)

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of external generation calls by status",
		},
		[]string{"status"},
	)

	c.usageIncrementFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increment_failures_total",
			Help:      "Total number of dropped usage-count increments",
		},
	)

	c.resolveDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolve-or-generate duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	c.generationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "External generation call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.lockWaitDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting on a held generation lock in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 90},
		},
	)

	c.similarityCandidatesScored = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_candidates_scored",
			Help:      "Number of candidates scored per similarity lookup",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	return c
}

// RecordCacheRequest counts a resolution outcome ("exact", "similar",
// "generated", "failed").
func (c *Collector) RecordCacheRequest(matchType string) {
	if c == nil {
		return
	}
	c.cacheRequestsTotal.WithLabelValues(matchType).Inc()
}

// RecordGeneration counts an external generation call ("success", "error").
func (c *Collector) RecordGeneration(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(status).Inc()
	c.generationDuration.Observe(duration.Seconds())
}

// RecordUsageIncrementFailure counts a dropped usage increment.
func (c *Collector) RecordUsageIncrementFailure() {
	if c == nil {
		return
	}
	c.usageIncrementFailures.Inc()
}

// RecordResolveDuration observes an end-to-end resolution.
func (c *Collector) RecordResolveDuration(duration time.Duration) {
	if c == nil {
		return
	}
	c.resolveDuration.Observe(duration.Seconds())
}

// RecordLockWait observes time spent waiting on a held lock.
func (c *Collector) RecordLockWait(duration time.Duration) {
	if c == nil {
		return
	}
	c.lockWaitDuration.Observe(duration.Seconds())
}

// RecordCandidatesScored observes the candidate set size of one lookup.
func (c *Collector) RecordCandidatesScored(n int) {
	if c == nil {
		return
	}
	c.similarityCandidatesScored.Observe(float64(n))
}

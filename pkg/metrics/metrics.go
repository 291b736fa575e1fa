// Package metrics provides Prometheus metrics for the migrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal tracks terminal record outcomes
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "executor",
			Name:      "records_total",
			Help:      "Total number of records processed by terminal outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	// ResolutionsTotal tracks match engine decisions
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "matching",
			Name:      "resolutions_total",
			Help:      "Total number of match resolutions by kind and reason",
		},
		[]string{"entity_type", "kind", "reason"},
	)

	// WriteRetriesTotal tracks retried adapter calls
	WriteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "adapter",
			Name:      "write_retries_total",
			Help:      "Total number of write retries after transient failures",
		},
		[]string{"entity_type", "op"},
	)

	// WriteDuration tracks adapter call latency
	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "migrator",
			Subsystem: "adapter",
			Name:      "write_duration_seconds",
			Help:      "Duration of target system write calls in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	// BatchDuration tracks batch execution duration
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "migrator",
			Subsystem: "runner",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"status"},
	)

	// RunsTotal tracks finished runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Total number of runs by terminal status",
		},
		[]string{"status"},
	)

	// QuarantineDepth tracks items awaiting review
	QuarantineDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "migrator",
			Subsystem: "quarantine",
			Name:      "pending_items",
			Help:      "Number of quarantine items awaiting a decision",
		},
	)

	// QuarantineDecisionsTotal tracks reviewer decisions
	QuarantineDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "quarantine",
			Name:      "decisions_total",
			Help:      "Total number of quarantine decisions by action",
		},
		[]string{"entity_type", "action"},
	)

	// LockWaitTime tracks time spent acquiring natural-key locks
	LockWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "migrator",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for natural-key locks in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// CircuitBreakerState tracks the target adapter breaker (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "migrator",
			Subsystem: "adapter",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state of the target adapter",
		},
		[]string{"name"},
	)

	// HTTPRequestsTotal tracks API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migrator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "migrator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

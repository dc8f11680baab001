// Package metrics declares the pool's Prometheus instrumentation.
//
// Grounded on worker/internal/metrics/prometheus.go's package-level
// promauto vars, generalized from code-execution-specific names
// (executions/sandbox) to the pool's own vocabulary (jobs/dispatch/demand).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts completed jobs by pool and outcome ("ok" or "crashed").
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pond_jobs_total",
			Help: "Total number of jobs processed",
		},
		[]string{"pool", "outcome"},
	)

	// JobDuration tracks dispatch-to-completion latency in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pond_job_duration_seconds",
			Help:    "Duration of job dispatch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"pool"},
	)

	// WorkersBusy tracks how many Worker Monitors currently hold a leased job.
	WorkersBusy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pond_workers_busy",
			Help: "Number of worker monitors currently dispatching a job",
		},
		[]string{"pool"},
	)

	// OutstandingDemand tracks each queue producer's current unmet demand.
	OutstandingDemand = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pond_outstanding_demand",
			Help: "Units of unmet demand registered with a queue producer",
		},
		[]string{"pool", "producer"},
	)

	// FailureModeInvocations counts failure-mode handler calls by pool and result.
	FailureModeInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pond_failure_mode_invocations_total",
			Help: "Total number of failure-mode handler invocations",
		},
		[]string{"pool", "result"},
	)
)

package observability

import "github.com/prometheus/client_golang/prometheus"

// Pipeline collectors. HTTP-level metrics live in the middleware package;
// these cover what happens after a callback is accepted.
var (
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_total",
			Help: "Inbound webhook callbacks by outcome.",
		},
		[]string{"outcome"}, // accepted, duplicate, forbidden, rate_limited, enqueue_failed
	)

	WebhookEnqueueFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_enqueue_failures_total",
			Help: "Accepted callbacks whose processing job could not be enqueued.",
		},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background jobs by outcome.",
		},
		[]string{"outcome"}, // done, retry, failed
	)

	JobsBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Jobs waiting to be claimed, sampled by the housekeeping schedule.",
		},
	)

	FlowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_transitions_total",
			Help: "Flow execution state changes by resulting status.",
		},
		[]string{"status"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Outbound sends by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Provider call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		WebhooksTotal,
		WebhookEnqueueFailures,
		JobsProcessed,
		JobsBacklog,
		FlowTransitions,
		DispatchTotal,
		DispatchLatency,
	)
}

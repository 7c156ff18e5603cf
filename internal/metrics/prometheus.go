package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch metrics
var (
	DispatchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_cycles_total",
			Help: "Total number of dispatch cycles",
		},
		[]string{"result"}, // ok, error, panic
	)

	DispatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_cycle_duration_seconds",
			Help:    "Duration of a full dispatch cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchDueJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_due_jobs",
			Help: "Number of due jobs found by the last cycle",
		},
	)

	DispatchDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter sink",
		},
		[]string{"reason"}, // permanent, exhausted
	)

	DispatchRetryingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_retrying_jobs",
			Help: "Number of pending jobs with at least one failed attempt",
		},
	)

	DispatchMalformedJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_malformed_jobs_total",
			Help: "Total number of pending jobs skipped because their time could not be parsed",
		},
	)
)

// Transport metrics
var (
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_sends_total",
			Help: "Total number of SMTP send attempts",
		},
		[]string{"status"}, // sent, failed
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transport_send_duration_seconds",
			Help:    "Duration of SMTP send attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Store metrics
var (
	PendingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobstore_pending_jobs",
			Help: "Number of jobs in the pending set after the last write",
		},
	)

	JobStoreConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobstore_conflicts_total",
			Help: "Total number of replace-all attempts rejected by the version check",
		},
	)

	DeliveryLogAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_log_appends_total",
			Help: "Total number of delivery log appends",
		},
		[]string{"result"}, // ok, error
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

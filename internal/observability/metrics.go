package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	gradingOutcomesTotal  *prometheus.CounterVec
	gradingTaskSeconds    *prometheus.HistogramVec
	gradingInFlight       prometheus.Gauge
	gradingBatchesStarted *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_outcomes_total",
			Help: "Settled grading attempts by final status and trigger.",
		}, []string{"status", "trigger"})

		gradingTaskSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_task_duration_seconds",
			Help:    "Duration of a single submission grading attempt.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"status"})

		gradingInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_tasks_in_flight",
			Help: "Submission grading attempts currently running.",
		})

		gradingBatchesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_batches_started_total",
			Help: "Batch grading requests accepted, labelled by whether any submission was selected.",
		}, []string{"selected"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradingOutcomesTotal,
			gradingTaskSeconds,
			gradingInFlight,
			gradingBatchesStarted,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingOutcomes counts settled grading attempts.
func GradingOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingOutcomesTotal
}

// GradingTaskDuration observes how long single grading attempts take.
func GradingTaskDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingTaskSeconds
}

// GradingInFlight tracks running grading attempts.
func GradingInFlight() prometheus.Gauge {
	RegisterMetrics()
	return gradingInFlight
}

// GradingBatchesStarted counts accepted batch grading requests.
func GradingBatchesStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingBatchesStarted
}

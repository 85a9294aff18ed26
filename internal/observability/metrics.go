package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec

	runsTotal           *prometheus.CounterVec
	runDurationSeconds  *prometheus.HistogramVec
	barrierFiresTotal   *prometheus.CounterVec
	anomaliesTotal      *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	erasuresTotal       prometheus.Counter
	rejectedSubmissions *prometheus.CounterVec
	runsInFlight        prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors for the API and the evaluation pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_requests_total",
			Help: "Total number of evaluation API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evaluation_latency_seconds",
			Help:    "Latency distribution for evaluation API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_errors_total",
			Help: "Total number of error responses returned by evaluation endpoints.",
		}, []string{"method", "route", "status"})

		runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_model_runs_total",
			Help: "Model runs by model and terminal outcome.",
		}, []string{"model", "outcome"})

		runDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evaluation_model_run_duration_seconds",
			Help:    "Wall time of model runs including the provider call.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"model"})

		barrierFiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_barrier_fires_total",
			Help: "Completion barrier hand-offs by reason.",
		}, []string{"reason"})

		anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_anomalies_total",
			Help: "Tolerated pipeline anomalies by kind.",
		}, []string{"kind"})

		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_draft_transitions_total",
			Help: "Draft status transitions by target status.",
		}, []string{"to"})

		erasuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_content_erasures_total",
			Help: "Draft contents erased after release.",
		})

		rejectedSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_submissions_rejected_total",
			Help: "Submissions rejected before persistence by field.",
		}, []string{"field"})

		runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evaluation_model_runs_in_flight",
			Help: "Model runs currently executing.",
		})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			runsTotal, runDurationSeconds, barrierFiresTotal, anomaliesTotal,
			transitionsTotal, erasuresTotal, rejectedSubmissions, runsInFlight,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// ModelRuns exposes the model run outcome counter.
func ModelRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return runsTotal
}

// ModelRunDuration exposes the model run duration histogram.
func ModelRunDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return runDurationSeconds
}

// BarrierFires exposes the barrier hand-off counter.
func BarrierFires() *prometheus.CounterVec {
	RegisterMetrics()
	return barrierFiresTotal
}

// Anomalies exposes the anomaly counter.
func Anomalies() *prometheus.CounterVec {
	RegisterMetrics()
	return anomaliesTotal
}

// DraftTransitions exposes the draft transition counter.
func DraftTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}

// ContentErasures exposes the erasure counter.
func ContentErasures() prometheus.Counter {
	RegisterMetrics()
	return erasuresTotal
}

// RejectedSubmissions exposes the rejected submission counter.
func RejectedSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return rejectedSubmissions
}

// RunsInFlight exposes the in-flight model run gauge.
func RunsInFlight() prometheus.Gauge {
	RegisterMetrics()
	return runsInFlight
}

package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	evaluationsTotal       *prometheus.CounterVec
	evaluationPipelineSecs *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used for API observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgrade_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examgrade_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.25, 1.0, 5.0, 15.0, 60.0, 120.0},
		}, []string{"method", "route"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examgrade_evaluations_total",
			Help: "Total number of completed answer evaluations.",
		}, []string{"outcome", "confidence"})

		evaluationPipelineSecs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examgrade_evaluation_pipeline_seconds",
			Help:    "End-to-end latency of the evaluation pipeline.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"subject"})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, evaluationsTotal, evaluationPipelineSecs)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// Evaluations exposes the counter for completed evaluations.
func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

// EvaluationPipeline exposes the end-to-end pipeline latency histogram.
func EvaluationPipeline() *prometheus.HistogramVec {
	RegisterMetrics()
	return evaluationPipelineSecs
}

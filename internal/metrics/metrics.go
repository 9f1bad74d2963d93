package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing, so components stay usable
// in tests without a registry.
type Metrics struct {
	ChunksEnqueued prometheus.Counter
	QueueDepth     prometheus.Gauge
	InflightJobs   prometheus.Gauge

	JobsSucceeded prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	RetryAttempts prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_chunks_enqueued_total",
			Help: "Total number of audio chunks accepted into the queue",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_queue_depth",
			Help: "Current number of chunks waiting in the backlog",
		}),
		InflightJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_inflight_jobs",
			Help: "Number of jobs currently being processed (0 or 1)",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_jobs_succeeded_total",
			Help: "Total number of chunks that produced a transcript fragment",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_jobs_failed_total",
			Help: "Total number of chunks that exhausted their attempts",
		}, []string{"kind"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_job_duration_seconds",
			Help:    "End-to-end processing time per successful chunk",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_retry_attempts_total",
			Help: "Total number of re-attempts after a retryable failure",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ChunkEnqueued records one accepted chunk and the resulting backlog depth.
func (m *Metrics) ChunkEnqueued(depth int) {
	if m == nil {
		return
	}
	m.ChunksEnqueued.Inc()
	m.QueueDepth.Set(float64(depth))
}

// SetQueueDepth updates the backlog depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// JobStarted marks a job inflight.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.InflightJobs.Inc()
}

// JobFinished marks the inflight job terminal.
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.InflightJobs.Dec()
}

// JobSucceeded records one successful chunk and its processing time.
func (m *Metrics) JobSucceeded(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsSucceeded.Inc()
	m.JobDuration.Observe(elapsed.Seconds())
}

// JobFailed records one terminal failure by error kind.
func (m *Metrics) JobFailed(kind string) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(kind).Inc()
}

// RetryScheduled records one backoff re-attempt.
func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.RetryAttempts.Inc()
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

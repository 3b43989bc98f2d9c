// Package metrics holds the Prometheus collectors exported by AnyVid.
// Collectors are registered with the default registry on package init and
// exposed by the REST gateway at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineLoads counts media engine load attempts by outcome (success|failure)
	EngineLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anyvid_engine_loads_total",
		Help: "Total media engine load attempts",
	}, []string{"outcome"})

	// JobsSubmitted counts transcode jobs accepted in to the queue
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anyvid_jobs_submitted_total",
		Help: "Total transcode jobs submitted",
	}, []string{"operation"})

	// JobsFinished counts transcode jobs reaching a terminal state
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anyvid_jobs_finished_total",
		Help: "Total transcode jobs finished",
	}, []string{"operation", "state", "reason"})

	// JobDuration tracks the time spent executing a job, excluding queue time
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anyvid_job_duration_seconds",
		Help:    "Duration of transcode job execution",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 12), // 0.5s to ~17m
	}, []string{"operation"})

	// JobQueueDepth reports the number of jobs waiting for the runner
	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anyvid_job_queue_depth",
		Help: "Number of transcode jobs waiting to run",
	})

	// ExtractionAttempts counts individual backend attempts by endpoint and outcome
	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anyvid_extraction_attempts_total",
		Help: "Total extraction backend attempts",
	}, []string{"endpoint", "outcome"})

	// ExtractionAttemptDuration tracks the latency of each backend attempt
	ExtractionAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anyvid_extraction_attempt_duration_seconds",
		Help:    "Duration of extraction backend attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 10), // 50ms to ~25s
	}, []string{"endpoint"})

	// ExtractionRequests counts whole extraction requests by result (success|exhausted|invalid)
	ExtractionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anyvid_extraction_requests_total",
		Help: "Total extraction requests",
	}, []string{"result"})

	// HistoryDropped counts audit records discarded because the recorder was saturated
	HistoryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anyvid_history_dropped_total",
		Help: "Total history records dropped due to a full buffer",
	})

	// SocketClients reports the number of connected activity socket clients
	SocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anyvid_socket_clients",
		Help: "Number of connected activity socket clients",
	})
)

// RecordExtractionAttempt records a single backend attempt.
func RecordExtractionAttempt(endpoint string, outcome string, elapsed time.Duration) {
	ExtractionAttempts.WithLabelValues(endpoint, outcome).Inc()
	ExtractionAttemptDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordJobFinished records a job which has reached a terminal state. The
// execution duration is only observed for jobs which actually ran.
func RecordJobFinished(operation string, state string, reason string, ran time.Duration) {
	JobsFinished.WithLabelValues(operation, state, reason).Inc()
	if ran > 0 {
		JobDuration.WithLabelValues(operation).Observe(ran.Seconds())
	}
}

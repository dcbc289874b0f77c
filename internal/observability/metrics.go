package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments, adapted from the
// teacher's internal/observability/metrics.go registration style.
type Metrics struct {
	ChunksHashed    prometheus.Counter
	ChunksUploaded  prometheus.Counter
	ChunksDeduped   prometheus.Counter
	UploadsStarted  prometheus.Counter
	UploadsComplete prometheus.Counter
	UploadsFailed   prometheus.Counter
	UploadDuration  prometheus.Histogram
	ActiveUploads   prometheus.Gauge
}

// NewMetrics registers the engine's instruments against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksHashed: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_hashed_total",
			Help: "Number of chunks hashed by the worker pool.",
		}),
		ChunksUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_uploaded_total",
			Help: "Number of chunks actually transmitted to the server.",
		}),
		ChunksDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_deduped_total",
			Help: "Number of chunks skipped because the server already had them.",
		}),
		UploadsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_started_total",
			Help: "Number of upload sessions started.",
		}),
		UploadsComplete: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_completed_total",
			Help: "Number of upload sessions that reached Completed.",
		}),
		UploadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_failed_total",
			Help: "Number of upload sessions that reached Failed.",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_session_duration_seconds",
			Help:    "Wall-clock duration of completed upload sessions.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveUploads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "upload_sessions_active",
			Help: "Number of upload sessions currently in progress.",
		}),
	}
}

// NoopMetrics returns a metrics set registered against a throwaway registry, for tests
// that don't care about metric values but exercise code paths that record
// them.
func NoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

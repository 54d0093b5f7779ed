package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	EventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caindex_events_appended_total",
			Help: "Total number of events durably appended, by type",
		},
		[]string{"type"},
	)

	EventsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caindex_events_failed_total",
			Help: "Total number of queued events that failed to store",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_queue_depth",
			Help: "Current number of items waiting in the ingest queue",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caindex_batch_size",
			Help:    "Number of events processed per ingest batch",
			Buckets: prometheus.LinearBuckets(0, 10, 10),
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caindex_batch_duration_seconds",
			Help:    "Time taken to process one ingest batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pointer metrics
	EventCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_event_count",
			Help: "Number of events reachable from the current event_head",
		},
	)

	TotalCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_total_count",
			Help: "Number of distinct PIs with at least one create event",
		},
	)

	// Snapshot metrics
	SnapshotBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caindex_snapshot_build_duration_seconds",
			Help:    "Time taken to build a snapshot in seconds, by mode",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	SnapshotBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caindex_snapshot_builds_total",
			Help: "Total number of snapshot build attempts, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	SnapshotSeq = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_snapshot_seq",
			Help: "Sequence number of the most recently completed snapshot",
		},
	)

	SnapshotEntryCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_snapshot_entry_count",
			Help: "Number of entries in the most recently completed snapshot",
		},
	)

	// Merkle / consistency metrics
	MerkleNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caindex_merkle_cid_count",
			Help: "Number of distinct CIDs in the most recent Merkle tree's leaf set",
		},
	)

	ConsistencyViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caindex_consistency_violations_total",
			Help: "Total number of append-only consistency violations detected across snapshots",
		},
	)

	// Store gateway metrics
	StoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caindex_store_request_duration_seconds",
			Help:    "Store gateway call duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StoreRequestsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caindex_store_requests_failed_total",
			Help: "Total number of failed store gateway calls, by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caindex_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caindex_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(EventsFailedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(EventCount)
	prometheus.MustRegister(TotalCount)
	prometheus.MustRegister(SnapshotBuildDuration)
	prometheus.MustRegister(SnapshotBuildsTotal)
	prometheus.MustRegister(SnapshotSeq)
	prometheus.MustRegister(SnapshotEntryCount)
	prometheus.MustRegister(MerkleNodesTotal)
	prometheus.MustRegister(ConsistencyViolationsTotal)
	prometheus.MustRegister(StoreRequestDuration)
	prometheus.MustRegister(StoreRequestsFailedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

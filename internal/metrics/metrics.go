// Package metrics exposes Prometheus instrumentation for the pool, sync
// engine, conflict resolver, and replica lifecycle, grounded on the
// teacher's internal/database/postgres and internal/storage metrics
// patterns (promauto-registered vectors keyed by mode/table/strategy).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the sync core exports.
type Metrics struct {
	PoolOpenConnections *prometheus.GaugeVec
	PoolHealthy         *prometheus.GaugeVec
	PoolAcquireSeconds  prometheus.Histogram

	SyncRunsTotal    *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	SyncRecordsTotal *prometheus.CounterVec

	ConflictsTotal    *prometheus.CounterVec
	ConflictConfidence prometheus.Histogram

	ReplicaRebuildsTotal *prometheus.CounterVec
	ReplicaRepairRetries prometheus.Counter
}

// New registers every metric under the given namespace (default
// "synccore") on the default Prometheus registry. Call once per process:
// a second call with the same namespace panics on duplicate registration.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "synccore"
	}

	return &Metrics{
		PoolOpenConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "open_connections",
			Help: "Current number of open connections in the pool.",
		}, []string{"mode"}),
		PoolHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "healthy",
			Help: "1 if the most recent health check succeeded, else 0.",
		}, []string{"mode"}),
		PoolAcquireSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pool", Name: "acquire_seconds",
			Help:    "Time spent acquiring a connection from the pool.",
			Buckets: prometheus.DefBuckets,
		}),

		SyncRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "runs_total",
			Help: "Total sync runs by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		SyncDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "duration_seconds",
			Help:    "Sync run duration by strategy.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"strategy"}),
		SyncRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_total",
			Help: "Records pushed/pulled by table and direction.",
		}, []string{"table", "direction"}),

		ConflictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "detected_total",
			Help: "Conflicts detected by table and severity.",
		}, []string{"table", "severity"}),
		ConflictConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "confidence_score",
			Help:    "Confidence score (0-100) of applied conflict resolutions.",
			Buckets: []float64{50, 60, 70, 80, 85, 90, 95, 100},
		}),

		ReplicaRebuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replica", Name: "rebuilds_total",
			Help: "Embedded replica fresh builds by reason.",
		}, []string{"reason"}),
		ReplicaRepairRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replica", Name: "schema_repair_retries_total",
			Help: "Total schema repair attempts beyond the first.",
		}),
	}
}

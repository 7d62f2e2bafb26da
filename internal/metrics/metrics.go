// Package metrics declares Prometheus counters/gauges for the core's
// per-operation structured log (collection, kind, lsn, duration_ms,
// explain_class) and serves them through Handler. No code in this module
// records values into these collectors, so they report zero values;
// correctness never depends on them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebase_operations_total",
			Help: "Total core operations by collection, kind and outcome.",
		},
		[]string{"collection", "kind", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corebase_operation_duration_seconds",
			Help:    "Core operation latency by kind and explain cost class.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "explain_class"},
	)

	WALSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corebase_wal_size_bytes",
			Help: "Total size in bytes of all WAL segments on disk.",
		},
	)

	WALAppendedLSN = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corebase_wal_lsn",
			Help: "Highest LSN appended to the WAL.",
		},
	)

	ReplicaAppliedLSN = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corebase_replica_applied_lsn",
			Help: "Last LSN applied by a follower, by follower node ID.",
		},
		[]string{"follower_id"},
	)

	AuthorityGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corebase_authority_generation",
			Help: "Current generation recorded in the local authority marker.",
		},
	)
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

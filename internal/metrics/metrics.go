// Package metrics exposes Prometheus counters and gauges for the
// coordinator and storage nodes. Grounded on QuantaraX's
// observability.Metrics, narrowed to the storage-cluster domain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the cluster's Prometheus instruments.
type Metrics struct {
	ChunksStoredTotal     *prometheus.CounterVec
	ChunksRejectedTotal   *prometheus.CounterVec
	BytesStoredTotal      prometheus.Counter
	ChunkTransferDuration *prometheus.HistogramVec

	NodesRegistered  prometheus.Gauge
	NodesHealthy     prometheus.Gauge
	NodesFailed      prometheus.Gauge
	HeartbeatsTotal  *prometheus.CounterVec

	BandwidthReservedBytes prometheus.Gauge
	BandwidthRefusalsTotal *prometheus.CounterVec

	UnderReplicatedChunks prometheus.Gauge
	ReReplicationsTotal   *prometheus.CounterVec
}

// New creates and registers the cluster's metrics.
func New() *Metrics {
	return &Metrics{
		ChunksStoredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_chunks_stored_total",
				Help: "Chunks accepted by STORE_CHUNK, by node",
			},
			[]string{"node_id"},
		),
		ChunksRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_chunks_rejected_total",
				Help: "Chunks refused by STORE_CHUNK, by error code",
			},
			[]string{"node_id", "error_code"},
		),
		BytesStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_bytes_stored_total",
				Help: "Total chunk payload bytes accepted across the cluster",
			},
		),
		ChunkTransferDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_chunk_transfer_duration_seconds",
				Help:    "STORE_CHUNK / GET_CHUNK wall time",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"direction"},
		),
		NodesRegistered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_nodes_registered",
				Help: "Nodes known to the coordinator",
			},
		),
		NodesHealthy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_nodes_healthy",
				Help: "Nodes in the HEALTHY state",
			},
		),
		NodesFailed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_nodes_failed",
				Help: "Nodes in the FAILED state",
			},
		),
		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_heartbeats_total",
				Help: "Heartbeats received, by node",
			},
			[]string{"node_id"},
		),
		BandwidthReservedBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_bandwidth_reserved_bytes",
				Help: "Bandwidth currently reserved across all live transfers",
			},
		),
		BandwidthRefusalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_bandwidth_refusals_total",
				Help: "Transfers refused for lack of available bandwidth, by node",
			},
			[]string{"node_id"},
		),
		UnderReplicatedChunks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_under_replicated_chunks",
				Help: "Chunks currently below the minimum replication factor",
			},
		),
		ReReplicationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_rereplications_total",
				Help: "Re-replication attempts, by result",
			},
			[]string{"result"},
		),
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

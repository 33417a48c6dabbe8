// Package metrics exposes the engine's Prometheus instrumentation: per-edge
// queue depth, epoch sealing latency, records processed per node, storage
// commit latency, and broadcast subscriber health.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel metrics
	ChannelQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dagflow_channel_queue_depth",
			Help: "Current number of buffered operations on a node/port edge",
		},
		[]string{"node", "port"},
	)

	ChannelCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dagflow_channel_capacity",
			Help: "Configured capacity of a node/port edge channel",
		},
		[]string{"node", "port"},
	)

	SendStallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagflow_send_stalls_total",
			Help: "Total number of times a send on an edge stalled past the warning threshold",
		},
		[]string{"node", "port"},
	)

	// Node throughput metrics
	RecordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagflow_records_processed_total",
			Help: "Total number of operations processed by a node, by operation kind",
		},
		[]string{"node", "kind"},
	)

	NodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagflow_node_errors_total",
			Help: "Total number of errors raised by a node",
		},
		[]string{"node", "stage"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagflow_processing_duration_seconds",
			Help:    "Time taken to process a single operation at a node",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	// Epoch / checkpoint metrics
	EpochsSealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dagflow_epochs_sealed_total",
			Help: "Total number of epoch commits completed by processor and sink nodes",
		},
	)

	EpochSealDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dagflow_epoch_seal_duration_seconds",
			Help:    "Time between epoch open and epoch seal",
			Buckets: prometheus.DefBuckets,
		},
	)

	EpochIdleSealsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dagflow_epoch_idle_seals_total",
			Help: "Total number of epochs sealed by the idle ticker rather than by every source reporting",
		},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagflow_commit_duration_seconds",
			Help:    "Time taken to commit a node's state for one epoch, including the storage transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	// Storage metrics
	StorageWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagflow_storage_write_duration_seconds",
			Help:    "Time taken to encode and write one record, by writer kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	StorageTxnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagflow_storage_txn_duration_seconds",
			Help:    "Time a bbolt transaction was held open",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"writable"},
	)

	StorageBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dagflow_storage_bytes_total",
			Help: "Total number of bytes written to the record store",
		},
	)

	// Broadcast metrics
	BroadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dagflow_broadcast_subscribers",
			Help: "Current number of active broadcast subscribers",
		},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dagflow_broadcast_dropped_total",
			Help: "Total number of events dropped because a subscriber's buffer was full",
		},
	)

	// Shutdown metrics
	ShutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dagflow_shutdown_duration_seconds",
			Help:    "Time taken to drain the DAG after shutdown was requested",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(ChannelQueueDepth)
	prometheus.MustRegister(ChannelCapacity)
	prometheus.MustRegister(SendStallsTotal)
	prometheus.MustRegister(RecordsProcessedTotal)
	prometheus.MustRegister(NodeErrorsTotal)
	prometheus.MustRegister(ProcessingDuration)

	prometheus.MustRegister(EpochsSealedTotal)
	prometheus.MustRegister(EpochSealDuration)
	prometheus.MustRegister(EpochIdleSealsTotal)
	prometheus.MustRegister(CommitDuration)

	prometheus.MustRegister(StorageWriteDuration)
	prometheus.MustRegister(StorageTxnDuration)
	prometheus.MustRegister(StorageBytesTotal)

	prometheus.MustRegister(BroadcastSubscribers)
	prometheus.MustRegister(BroadcastDroppedTotal)

	prometheus.MustRegister(ShutdownDuration)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

/*
Package metrics provides Prometheus metrics collection and exposition for
dagflow's streaming execution engine.

The metrics package defines and registers every dagflow metric using the
Prometheus client library, giving observability into edge back-pressure,
node throughput, epoch sealing, storage commit latency, and broadcast
subscriber health. Metrics are exposed via an HTTP endpoint for scraping
by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Channel: queue depth, capacity, stalls     │          │
	│  │  Node: records processed, errors, duration  │          │
	│  │  Epoch: seals, seal duration, idle seals    │          │
	│  │  Storage: write/txn duration, bytes written │          │
	│  │  Broadcast: subscribers, dropped events     │          │
	│  │  Shutdown: drain duration                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics (mounted by cmd/dagflow)   │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Metrics Catalog

Channel metrics, updated by pkg/exec on every Send:

dagflow_channel_queue_depth{node, port}:
  - Type: Gauge
  - Description: Current number of buffered operations on a node/port edge

dagflow_channel_capacity{node, port}:
  - Type: Gauge
  - Description: Configured capacity of a node/port edge channel

dagflow_send_stalls_total{node, port}:
  - Type: Counter
  - Description: Total times a send on an edge stalled past the warning threshold

Node throughput metrics, updated by pkg/engine's worker loops:

dagflow_records_processed_total{node, kind}:
  - Type: Counter
  - Description: Total operations processed by a node, by operation kind

dagflow_node_errors_total{node, stage}:
  - Type: Counter
  - Description: Total errors raised by a node

dagflow_processing_duration_seconds{node}:
  - Type: Histogram
  - Description: Time taken to process a single operation at a node

Epoch / checkpoint metrics, updated by pkg/engine (the processor and sink
workers record per-node commits; the epoch manager records seal timing and
idle seals):

dagflow_epochs_sealed_total:
  - Type: Counter
  - Description: Total epoch commits completed by processor and sink nodes

dagflow_epoch_seal_duration_seconds:
  - Type: Histogram
  - Description: Time between epoch open and epoch seal

dagflow_epoch_idle_seals_total:
  - Type: Counter
  - Description: Epochs sealed by the idle ticker rather than by every source reporting

dagflow_commit_duration_seconds{node}:
  - Type: Histogram
  - Description: Time to commit a node's state for one epoch, including the storage transaction

Storage metrics, updated by pkg/store:

dagflow_storage_write_duration_seconds{kind}:
  - Type: Histogram
  - Description: Time to encode and write one record, by writer kind

dagflow_storage_txn_duration_seconds{writable}:
  - Type: Histogram
  - Description: Time a bbolt transaction was held open

dagflow_storage_bytes_total:
  - Type: Counter
  - Description: Total bytes written to the record store

Broadcast metrics, updated by pkg/broadcast:

dagflow_broadcast_subscribers:
  - Type: Gauge
  - Description: Current number of active broadcast subscribers

dagflow_broadcast_dropped_total:
  - Type: Counter
  - Description: Events dropped because a subscriber's buffer was full

Shutdown metrics:

dagflow_shutdown_duration_seconds:
  - Type: Histogram
  - Description: Time taken to drain the DAG after shutdown was requested

# Usage

Updating gauge/counter metrics directly:

	import "github.com/dagflow/dagflow/pkg/metrics"

	metrics.ChannelQueueDepth.WithLabelValues(node, port).Set(float64(depth))
	metrics.RecordsProcessedTotal.WithLabelValues(node, kind).Inc()

Recording histogram observations with the Timer helper:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.EpochSealDuration)

	timer2 := metrics.NewTimer()
	// ... process one operation at a node ...
	timer2.ObserveDurationVec(metrics.ProcessingDuration, nodeHandle.String())

Exposing the endpoint:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", mux)

# Integration Points

This package integrates with:

  - pkg/exec: channel queue depth, capacity, send stalls
  - pkg/engine: node throughput, epoch sealing, commit duration
  - pkg/store: storage write/transaction duration, bytes written
  - pkg/broadcast: subscriber count, dropped events
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Labels are node/port/kind/stage — all bounded by the DAG's own node
    count, never per-record or per-operation values
  - Keep label count low per metric

Timer Pattern:
  - Create a Timer at operation start
  - ObserveDuration/ObserveDurationVec at the end
  - Supports both simple and vector histograms

# See Also

  - pkg/health: liveness checks, complementary to the throughput signal here
  - Prometheus documentation: https://prometheus.io/docs/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics

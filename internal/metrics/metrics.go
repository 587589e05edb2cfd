// Package metrics exposes the Prometheus instrumentation for the
// indexing pipeline, plus OTLP tracer/meter bootstrap (otel.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BufferFlushes counts Update Buffer flush dispatches by reason.
	BufferFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_buffer_flushes_total",
		Help: "The total number of update buffer flushes by trigger reason",
	}, []string{"reason"})

	// BufferDocsBuffered counts documents/deletes appended to the buffer.
	BufferDocsBuffered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_buffer_items_total",
		Help: "The total number of documents or delete directives appended to the update buffer",
	}, []string{"kind"})

	// SolrRequests counts Solr HTTP requests by outcome.
	SolrRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_solr_requests_total",
		Help: "The total number of Solr update requests by outcome",
	}, []string{"outcome"})

	// SolrRetries counts retry attempts issued by the Solr client.
	SolrRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_solr_retries_total",
		Help: "The total number of Solr update retries",
	}, []string{"reason"})

	// SolrRequestLatency observes request durations.
	SolrRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solrupdater_solr_request_duration_seconds",
		Help:    "Time taken for a Solr update request to complete",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// ClusterState tracks the current cluster classification as a gauge
	// with one active value per label set (1 = current state).
	ClusterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solrupdater_cluster_state",
		Help: "Current SolrCloud cluster state classification (1 = active)",
	}, []string{"state"})

	// ClusterProbes counts cluster-state probes by outcome.
	ClusterProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_cluster_probes_total",
		Help: "The total number of cluster-state probes by outcome",
	}, []string{"outcome"})

	// WorkerPoolDepth tracks pending requests per named pool.
	WorkerPoolDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solrupdater_worker_pool_depth",
		Help: "Pending requests in a worker pool's request queue",
	}, []string{"pool"})

	// WorkerPoolInFlight tracks in-flight work per named pool.
	WorkerPoolInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solrupdater_worker_pool_in_flight",
		Help: "In-flight requests currently being processed by a worker pool",
	}, []string{"pool"})

	// RecordsProcessed counts records processed by the builder/merge path.
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_records_processed_total",
		Help: "The total number of records processed, by stream and outcome",
	}, []string{"stream", "outcome"})

	// DedupGroupsMerged counts dedup groups processed by member count class.
	DedupGroupsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_dedup_groups_total",
		Help: "The total number of dedup groups processed, by surviving member count class",
	}, []string{"class"})

	// QueueCollectionsBuilt counts queue collection builds by reuse outcome.
	QueueCollectionsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solrupdater_queue_collections_total",
		Help: "The total number of queue collection resolutions, by outcome",
	}, []string{"outcome"})

	// CheckpointAdvances counts successful checkpoint advances.
	CheckpointAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solrupdater_checkpoint_advances_total",
		Help: "The total number of times the checkpoint was advanced after a full-scope run",
	})
)

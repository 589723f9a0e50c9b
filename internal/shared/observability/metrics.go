package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resgraph_graph_nodes_total",
		Help: "Total number of nodes in the most recently counted graph.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resgraph_graph_edges_total",
		Help: "Total number of edges in the most recently counted graph.",
	})

	WriteLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resgraph_write_lock_wait_seconds",
		Help:    "Time spent waiting to acquire the writer lock.",
		Buckets: prometheus.DefBuckets,
	})

	WriteLockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resgraph_write_lock_timeouts_total",
		Help: "Total number of writer lock acquisitions that timed out.",
	})

	BatchCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resgraph_batch_commits_total",
		Help: "Total number of transactions committed by batch inserts.",
	}, []string{"kind"})

	BatchRowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resgraph_batch_rows_written_total",
		Help: "Total number of rows written by batch inserts.",
	}, []string{"kind"})

	BatchRowsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resgraph_batch_rows_skipped_total",
		Help: "Total number of batch rows skipped as duplicates or dangling references.",
	}, []string{"kind"})

	MetricsRebuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resgraph_metrics_rebuild_seconds",
		Help:    "Latency of a full node metrics rebuild.",
		Buckets: prometheus.DefBuckets,
	})

	SearchFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resgraph_search_fallbacks_total",
		Help: "Total number of searches served by the substring fallback.",
	})

	SearchCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resgraph_search_cache_hits_total",
		Help: "Total number of searches served from the result cache.",
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resgraph_query_seconds",
		Help:    "Latency of graph read queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resgraph_snapshots_total",
		Help: "Total number of snapshot attempts by outcome.",
	}, []string{"outcome"})

	IngestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resgraph_ingest_queue_depth",
		Help: "Current number of ingest requests waiting to be flushed.",
	})

	IngestFlushLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resgraph_ingest_flush_seconds",
		Help:    "Latency for applying an ingest batch.",
		Buckets: prometheus.DefBuckets,
	})
)

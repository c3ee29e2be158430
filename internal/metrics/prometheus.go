package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsmetrics_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optionsmetrics_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Calculation cycle metrics
	AssetCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_asset_cycles_total",
			Help: "Per-asset calculation cycles",
		},
		[]string{"asset", "status"}, // status: success|error|no_data
	)

	AssetCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsmetrics_asset_cycle_duration_seconds",
			Help:    "Per-asset calculation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"asset"},
	)

	ContractsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_contracts_processed_total",
			Help: "Contracts with computed analytics",
		},
		[]string{"asset"},
	)

	ContractsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_contracts_skipped_total",
			Help: "Contracts skipped as sparse or failed",
		},
		[]string{"asset"},
	)

	AggregatesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_aggregates_written_total",
			Help: "Aggregate snapshot insert attempts",
		},
		[]string{"asset", "result"}, // result: inserted|duplicate
	)

	// Enrichment metrics
	EnrichmentTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_enrichment_tasks_total",
			Help: "Background enrichment tasks by outcome",
		},
		[]string{"asset", "result"}, // result: success|error|duplicate|dropped|locked
	)

	EnrichmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsmetrics_enrichment_duration_seconds",
			Help:    "Background enrichment duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"asset"},
	)

	PoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionsmetrics_pool_queue_depth",
			Help: "Tasks waiting in the enrichment pool",
		},
	)

	// Store metrics
	StoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_store_retries_total",
			Help: "Store operations retried after lock contention",
		},
		[]string{"operation"},
	)

	StoreQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_store_queries_total",
			Help: "Store operations",
		},
		[]string{"store", "operation", "status"},
	)

	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsmetrics_store_query_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	SchemaMigrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_schema_migrations_total",
			Help: "Applied schema migrations",
		},
		[]string{"table", "kind"}, // kind: create|add_columns|rebuild|verify
	)

	// Export metrics
	ExportedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsmetrics_exported_rows_total",
			Help: "Rows handed to external sinks",
		},
		[]string{"sink", "status"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with the default registry
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WorkerExecutions,
			WorkerDuration,
			WorkerLastRun,
			AssetCycles,
			AssetCycleDuration,
			ContractsProcessed,
			ContractsSkipped,
			AggregatesWritten,
			EnrichmentTasks,
			EnrichmentDuration,
			PoolQueueDepth,
			StoreRetries,
			StoreQueries,
			StoreQueryDuration,
			SchemaMigrations,
			ExportedRows,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordAssetCycle records one asset of a calculation cycle
func RecordAssetCycle(asset, result string, duration time.Duration, processed, skipped int) {
	AssetCycles.WithLabelValues(asset, result).Inc()
	AssetCycleDuration.WithLabelValues(asset).Observe(duration.Seconds())
	if processed > 0 {
		ContractsProcessed.WithLabelValues(asset).Add(float64(processed))
	}
	if skipped > 0 {
		ContractsSkipped.WithLabelValues(asset).Add(float64(skipped))
	}
}

// RecordEnrichment records a finished enrichment task
func RecordEnrichment(asset string, duration time.Duration, err error) {
	EnrichmentTasks.WithLabelValues(asset, status(err)).Inc()
	EnrichmentDuration.WithLabelValues(asset).Observe(duration.Seconds())
}

// RecordStoreQuery records a store operation
func RecordStoreQuery(store, operation string, duration time.Duration, err error) {
	StoreQueries.WithLabelValues(store, operation, status(err)).Inc()
	StoreQueryDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

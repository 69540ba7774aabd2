package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipeline_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_jobs_created_total",
			Help: "Total number of pipeline jobs submitted",
		},
		[]string{"type"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_jobs_completed_total",
			Help: "Total number of pipeline jobs finished, by outcome",
		},
		[]string{"type", "status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipeline_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipeline_jobs_queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	JobsDeadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipeline_jobs_dead_letter_depth",
			Help: "Number of jobs parked in the dead letter queue",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipeline_job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		},
		[]string{"type"},
	)

	// Pipeline Metrics
	PipelineOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_operations_total",
			Help: "Total number of coordinator operations, by outcome",
		},
		[]string{"operation", "status"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipeline_stage_duration_seconds",
			Help:    "Time spent in each stage of a coordinator operation",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 12), // 10ms to ~11 hours
		},
		[]string{"operation", "stage"},
	)

	VariantsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_variants_published_total",
			Help: "Total number of web video variants published",
		},
		[]string{"resolution"},
	)

	VariantsReplacedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipeline_variants_replaced_total",
			Help: "Total number of variants superseded by a new encode",
		},
	)

	// Worker Metrics
	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipeline_worker_active",
			Help: "Number of worker slots currently running a job",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipeline_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipeline_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipeline_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job submission
func RecordJobCreated(jobType string) {
	JobsCreatedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobCompleted records a job completion
func RecordJobCompleted(jobType, status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(jobType, status).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration)
}

// UpdateQueueDepths updates the queue gauges
func UpdateQueueDepths(queueDepth, deadLetterDepth int) {
	JobsQueueDepth.Set(float64(queueDepth))
	JobsDeadLetterDepth.Set(float64(deadLetterDepth))
}

// RecordPipelineOperation records the outcome of a coordinator operation
func RecordPipelineOperation(operation, status string) {
	PipelineOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStageDuration records how long one stage of an operation took
func RecordStageDuration(operation, stage string, seconds float64) {
	PipelineStageDuration.WithLabelValues(operation, stage).Observe(seconds)
}

// RecordVariantPublished records a finalized variant
func RecordVariantPublished(resolution string, replaced bool) {
	VariantsPublishedTotal.WithLabelValues(resolution).Inc()
	if replaced {
		VariantsReplacedTotal.Inc()
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/molcore/pkg/errors"
)

// AppMetrics holds every metric molcore exports.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// gRPC layer
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec

	// Engine
	EngineOperationsTotal   CounterVec
	EngineOperationDuration HistogramVec
	EmbedAttempts           HistogramVec
	AtomsProcessed          CounterVec
	HandleBytes             HistogramVec

	// Pipeline and worker
	PipelineRecordsTotal   CounterVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec
	WorkerActive           GaugeVec

	// Infrastructure
	DBQueryDuration  HistogramVec
	CacheHitsTotal   CounterVec
	CacheMissesTotal CounterVec
	StorageBytes     CounterVec

	ErrorsTotal CounterVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets   = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultEngineDurationBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}
	DefaultAttemptBuckets        = []float64{1, 2, 3, 5, 8, 10, 20}
	DefaultSizeBuckets           = []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576}
	DefaultDBDurationBuckets     = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers all metrics and returns AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	// gRPC
	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")
	m.GRPCRequestDuration = collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method")

	// Engine
	m.EngineOperationsTotal = collector.RegisterCounter("engine_operations_total", "Engine operations by outcome", "op", "status")
	m.EngineOperationDuration = collector.RegisterHistogram("engine_operation_duration_seconds", "Engine operation duration", DefaultEngineDurationBuckets, "op")
	m.EmbedAttempts = collector.RegisterHistogram("engine_embed_attempts", "Seeds tried per embedding", DefaultAttemptBuckets)
	m.AtomsProcessed = collector.RegisterCounter("engine_atoms_processed_total", "Atoms handled by engine operations", "op")
	m.HandleBytes = collector.RegisterHistogram("engine_handle_bytes", "Packed handle size", DefaultSizeBuckets)

	// Pipeline
	m.PipelineRecordsTotal = collector.RegisterCounter("pipeline_records_total", "Pipeline records by status", "status")
	m.MessagesTotal = collector.RegisterCounter("mq_messages_total", "Consumed messages by outcome", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "topic")
	m.WorkerActive = collector.RegisterGauge("worker_active", "Messages currently being processed", "topic")

	// Infrastructure
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.StorageBytes = collector.RegisterCounter("storage_written_bytes_total", "Bytes written to object storage", "bucket")

	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "code")

	return m
}

// NewNopAppMetrics returns metrics that record nothing.
func NewNopAppMetrics() *AppMetrics {
	return NewAppMetrics(NewNopCollector())
}

// Helpers

func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordGRPCRequest(metrics *AppMetrics, method, code string, duration time.Duration) {
	metrics.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	metrics.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordEngineOp counts one engine operation. The status label is "ok" or
// the error code.
func RecordEngineOp(metrics *AppMetrics, op string, atoms int, duration time.Duration, err error) {
	metrics.EngineOperationsTotal.WithLabelValues(op, StatusLabel(err)).Inc()
	metrics.EngineOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if atoms > 0 {
		metrics.AtomsProcessed.WithLabelValues(op).Add(float64(atoms))
	}
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("engine", string(errors.GetCode(err))).Inc()
	}
}

func RecordEmbedAttempts(metrics *AppMetrics, attempts int) {
	metrics.EmbedAttempts.WithLabelValues().Observe(float64(attempts))
}

func RecordMessage(metrics *AppMetrics, topic string, duration time.Duration, err error) {
	metrics.MessagesTotal.WithLabelValues(topic, StatusLabel(err)).Inc()
	metrics.MessageProcessDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func RecordDBQuery(metrics *AppMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, string(errors.GetCode(err))).Inc()
	}
}

func RecordCacheAccess(metrics *AppMetrics, cache string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordError(metrics *AppMetrics, component string, err error) {
	metrics.ErrorsTotal.WithLabelValues(component, string(errors.GetCode(err))).Inc()
}

// StatusLabel maps an operation outcome to a low-cardinality label value.
func StatusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.GetCode(err))
}

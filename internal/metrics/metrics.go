// Package metrics provides Prometheus metrics for Tributary components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all Tributary metrics.
	Namespace = "tributary"

	// Subsystem constants for metric organization.
	SubsystemCapture   = "capture"
	SubsystemQueue     = "queue"
	SubsystemSync      = "sync"
	SubsystemBackfill  = "backfill"
	SubsystemEvents    = "events"
	SubsystemWarehouse = "warehouse"
	SubsystemIngress   = "ingress"
)

// Label constants for consistent labeling across metrics.
const (
	LabelQueue     = "queue"
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelEventType = "event_type"
	LabelEndpoint  = "endpoint"
	LabelMethod    = "method"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelTable     = "table"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

var (
	// Capture Metrics

	// CaptureEventsTotal counts mutations handled by the capture trigger.
	CaptureEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCapture,
			Name:      "events_total",
			Help:      "Total number of document mutations handled by the capture trigger",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	// CaptureLagSeconds tracks the age of mutations when they are captured.
	CaptureLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCapture,
			Name:      "lag_seconds",
			Help:      "Age of document mutations when captured",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// CaptureRetriesTotal counts host retries of the capture trigger.
	CaptureRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCapture,
			Name:      "retries_total",
			Help:      "Total number of capture retry attempts",
		},
	)

	// Queue Metrics

	// QueueEnqueuedTotal counts tasks enqueued per queue.
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "enqueued_total",
			Help:      "Total number of tasks enqueued",
		},
		[]string{LabelQueue},
	)

	// QueueDispatchesTotal counts task dispatches per queue and outcome.
	QueueDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "dispatches_total",
			Help:      "Total number of task dispatches",
		},
		[]string{LabelQueue, LabelOutcome},
	)

	// QueueDispatchDuration tracks handler latency.
	QueueDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of task handler executions in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelQueue},
	)

	// QueueInFlight tracks the number of tasks currently leased by this worker.
	QueueInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "in_flight",
			Help:      "Number of tasks currently being dispatched",
		},
		[]string{LabelQueue},
	)

	// QueueDepth tracks the number of pending tasks per queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "depth",
			Help:      "Number of pending tasks",
		},
		[]string{LabelQueue},
	)

	// QueueDeadLetterTotal counts tasks moved to the dead-letter table.
	QueueDeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemQueue,
			Name:      "dead_letter_total",
			Help:      "Total number of tasks moved to the dead-letter table",
		},
		[]string{LabelQueue, LabelErrorType},
	)

	// Sync Metrics

	// SyncRecordsTotal counts change records written by the sync worker.
	SyncRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSync,
			Name:      "records_total",
			Help:      "Total number of change records handled by the sync worker",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	// Backfill Metrics

	// BackfillPagesTotal counts backfill pages scanned.
	BackfillPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBackfill,
			Name:      "pages_total",
			Help:      "Total number of backfill pages scanned",
		},
		[]string{LabelOutcome},
	)

	// BackfillDocumentsTotal counts documents imported by backfill.
	BackfillDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBackfill,
			Name:      "documents_total",
			Help:      "Total number of documents imported by backfill",
		},
	)

	// Events Metrics

	// EventsPublishedTotal counts lifecycle events published to the event bus.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemEvents,
			Name:      "published_total",
			Help:      "Total number of lifecycle events published",
		},
		[]string{LabelEventType, LabelOutcome},
	)

	// Warehouse Metrics

	// WarehouseRowsWrittenTotal counts rows appended to the changelog.
	WarehouseRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemWarehouse,
			Name:      "rows_written_total",
			Help:      "Total number of changelog rows written",
		},
		[]string{LabelTable},
	)

	// WarehouseCommitDuration tracks the duration of warehouse commits.
	WarehouseCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemWarehouse,
			Name:      "commit_duration_seconds",
			Help:      "Duration of warehouse commits in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelTable},
	)

	// WarehouseBytesWrittenTotal counts bytes written to object storage.
	WarehouseBytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemWarehouse,
			Name:      "bytes_written_total",
			Help:      "Total bytes of data files written",
		},
		[]string{LabelTable},
	)

	// WarehouseBackupRowsTotal counts rows diverted to the backup table.
	WarehouseBackupRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemWarehouse,
			Name:      "backup_rows_total",
			Help:      "Total number of rows written to the failed-rows backup table",
		},
		[]string{LabelTable},
	)

	// Ingress Metrics

	// IngressRequestsTotal counts HTTP requests.
	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIngress,
			Name:      "requests_total",
			Help:      "Total number of ingress requests",
		},
		[]string{LabelEndpoint, LabelMethod, LabelStatus},
	)

	// IngressRequestDuration tracks HTTP request latency.
	IngressRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIngress,
			Name:      "request_duration_seconds",
			Help:      "Duration of ingress requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelEndpoint, LabelMethod},
	)

	// IngressRequestSize tracks the size of request bodies.
	IngressRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIngress,
			Name:      "request_size_bytes",
			Help:      "Size of ingress request bodies in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6), // 100B to 10MB
		},
		[]string{LabelEndpoint, LabelMethod},
	)

	// allMetrics contains all metrics for registration.
	allMetrics = []prometheus.Collector{
		// Capture
		CaptureEventsTotal,
		CaptureLagSeconds,
		CaptureRetriesTotal,
		// Queue
		QueueEnqueuedTotal,
		QueueDispatchesTotal,
		QueueDispatchDuration,
		QueueInFlight,
		QueueDepth,
		QueueDeadLetterTotal,
		// Sync
		SyncRecordsTotal,
		// Backfill
		BackfillPagesTotal,
		BackfillDocumentsTotal,
		// Events
		EventsPublishedTotal,
		// Warehouse
		WarehouseRowsWrittenTotal,
		WarehouseCommitDuration,
		WarehouseBytesWrittenTotal,
		WarehouseBackupRowsTotal,
		// Ingress
		IngressRequestsTotal,
		IngressRequestDuration,
		IngressRequestSize,
	}
)

// Register registers all Tributary metrics with the default Prometheus registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all Tributary metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all Tributary metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	RegisterWith(reg)

	return reg
}

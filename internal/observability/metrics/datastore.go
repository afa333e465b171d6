package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics tracks scan store operations.
type DatastoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ScansStored       prometheus.Counter
	ScansDeleted      prometheus.Counter
	registry          *prometheus.Registry
}

// NewDatastoreMetrics creates and registers datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_datastore_operations_total",
			Help: "Total number of scan store operations",
		},
		[]string{"operation", "status"}, // status: success, not_found, error
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropscan_datastore_operation_duration_seconds",
			Help:    "Time taken for scan store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	m.ScansStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cropscan_scans_stored_total",
		Help: "Scans persisted since start",
	})

	m.ScansDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cropscan_scans_deleted_total",
		Help: "Scans removed since start",
	})
}

// RecordOperation implements Recorder.
func (m *DatastoreMetrics) RecordOperation(operation, status string, d time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
	if status != StatusSuccess {
		return
	}
	switch operation {
	case "create_scan":
		m.ScansStored.Inc()
	case "delete_scan":
		m.ScansDeleted.Inc()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.ScansStored.Describe(ch)
	m.ScansDeleted.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.ScansStored.Collect(ch)
	m.ScansDeleted.Collect(ch)
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains metrics for disease alert delivery.
type NotificationMetrics struct {
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	FilteredTotal    *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_deliveries_total",
			Help: "Total number of alert delivery attempts by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_delivery_duration_seconds",
			Help:    "Time taken for alert delivery by provider",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}, // 10ms to 30s
		},
		[]string{"provider"},
	)

	m.FilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_filter_rejections_total",
			Help: "Scans that did not raise an alert by reason",
		},
		[]string{"reason"}, // reason: healthy, low_confidence
	)
}

// RecordDelivery records one delivery to a provider.
func (m *NotificationMetrics) RecordDelivery(provider string, d time.Duration, err error) {
	m.DeliveriesTotal.WithLabelValues(provider, statusOf(err)).Inc()
	m.DeliveryDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordFiltered counts a scan that was not alerted on.
func (m *NotificationMetrics) RecordFiltered(reason string) {
	m.FilteredTotal.WithLabelValues(reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.DeliveryDuration.Describe(ch)
	m.FilteredTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.DeliveryDuration.Collect(ch)
	m.FilteredTotal.Collect(ch)
}

package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntegrationMetrics tracks calls to third-party services: places search,
// speech synthesis, the chat LLM and outbound HTTP in general.
type IntegrationMetrics struct {
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	OutboundTotal   *prometheus.CounterVec
	BackupsTotal    *prometheus.CounterVec
	BackupSizeBytes prometheus.Gauge
	registry        *prometheus.Registry
}

// NewIntegrationMetrics creates and registers integration metrics.
func NewIntegrationMetrics(registry *prometheus.Registry) (*IntegrationMetrics, error) {
	m := &IntegrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register integration metrics: %w", err)
	}
	return m, nil
}

func (m *IntegrationMetrics) initMetrics() {
	m.CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_integration_calls_total",
			Help: "Calls to external services by service and outcome",
		},
		[]string{"service", "status"}, // service: places, tts, chat
	)

	m.CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropscan_integration_call_duration_seconds",
			Help:    "Latency of external service calls",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"service"},
	)

	m.OutboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_outbound_http_requests_total",
			Help: "Outbound HTTP requests by host and status code, 0 for transport failures",
		},
		[]string{"host", "status_code"},
	)

	m.BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_backups_total",
			Help: "Backup uploads by target and outcome",
		},
		[]string{"target", "status"},
	)

	m.BackupSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cropscan_backup_size_bytes",
		Help: "Size of the most recent database snapshot",
	})
}

// RecordCall records one call to a named service.
func (m *IntegrationMetrics) RecordCall(service string, d time.Duration, err error) {
	m.CallsTotal.WithLabelValues(service, statusOf(err)).Inc()
	m.CallDuration.WithLabelValues(service).Observe(d.Seconds())
}

// ObserveResponse matches the after-response hook of the shared HTTP client.
func (m *IntegrationMetrics) ObserveResponse(req *http.Request, resp *http.Response, _ error) {
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	m.OutboundTotal.WithLabelValues(req.URL.Host, strconv.Itoa(code)).Inc()
}

// RecordBackup records one snapshot upload.
func (m *IntegrationMetrics) RecordBackup(target string, size int64, err error) {
	m.BackupsTotal.WithLabelValues(target, statusOf(err)).Inc()
	if err == nil {
		m.BackupSizeBytes.Set(float64(size))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *IntegrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CallsTotal.Describe(ch)
	m.CallDuration.Describe(ch)
	m.OutboundTotal.Describe(ch)
	m.BackupsTotal.Describe(ch)
	m.BackupSizeBytes.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *IntegrationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CallsTotal.Collect(ch)
	m.CallDuration.Collect(ch)
	m.OutboundTotal.Collect(ch)
	m.BackupsTotal.Collect(ch)
	m.BackupSizeBytes.Collect(ch)
}

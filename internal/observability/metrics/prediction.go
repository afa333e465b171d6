package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PredictionMetrics tracks classification requests and model inference.
type PredictionMetrics struct {
	PredictionsTotal   *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	TopLabelsTotal     *prometheus.CounterVec
	InferenceDuration  *prometheus.HistogramVec
	InferenceErrors    *prometheus.CounterVec
	ModelReady         prometheus.Gauge
	registry           *prometheus.Registry
}

// NewPredictionMetrics creates and registers prediction metrics.
func NewPredictionMetrics(registry *prometheus.Registry) (*PredictionMetrics, error) {
	m := &PredictionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register prediction metrics: %w", err)
	}
	return m, nil
}

func (m *PredictionMetrics) initMetrics() {
	m.PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_predictions_total",
			Help: "Total number of prediction requests by outcome and crop",
		},
		[]string{"status", "crop"}, // status: success or an error category
	)

	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropscan_prediction_duration_seconds",
			Help:    "End to end prediction time including preprocessing",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"status"},
	)

	m.TopLabelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_top_label_total",
			Help: "Number of successful predictions by top ranked label",
		},
		[]string{"label"},
	)

	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropscan_inference_duration_seconds",
			Help:    "Model invocation time by backend",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"backend"},
	)

	m.InferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropscan_inference_errors_total",
			Help: "Model invocation failures by backend",
		},
		[]string{"backend"},
	)

	m.ModelReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cropscan_model_ready",
		Help: "1 when the classifier is loaded and serving, 0 otherwise",
	})
}

// RecordPrediction records one prediction request.
func (m *PredictionMetrics) RecordPrediction(status, crop, label string, d time.Duration) {
	m.PredictionsTotal.WithLabelValues(status, crop).Inc()
	m.PredictionDuration.WithLabelValues(status).Observe(d.Seconds())
	if status == StatusSuccess && label != "" {
		m.TopLabelsTotal.WithLabelValues(label).Inc()
	}
}

// ObserveInference records one model invocation.
func (m *PredictionMetrics) ObserveInference(backend string, d time.Duration, err error) {
	m.InferenceDuration.WithLabelValues(backend).Observe(d.Seconds())
	if err != nil {
		m.InferenceErrors.WithLabelValues(backend).Inc()
	}
}

// SetModelReady updates the readiness gauge.
func (m *PredictionMetrics) SetModelReady(ready bool) {
	if ready {
		m.ModelReady.Set(1)
		return
	}
	m.ModelReady.Set(0)
}

// Describe implements the prometheus.Collector interface.
func (m *PredictionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PredictionsTotal.Describe(ch)
	m.PredictionDuration.Describe(ch)
	m.TopLabelsTotal.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.InferenceErrors.Describe(ch)
	m.ModelReady.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PredictionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PredictionsTotal.Collect(ch)
	m.PredictionDuration.Collect(ch)
	m.TopLabelsTotal.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.InferenceErrors.Collect(ch)
	m.ModelReady.Collect(ch)
}

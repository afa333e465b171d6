package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/events"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/observability/metrics"
)

const (
	reasonHealthy       = "healthy"
	reasonLowConfidence = "low_confidence"
)

// Notifier turns scan events into disease alerts. Scans whose top label is a
// healthy class, or whose confidence is under the threshold, are skipped.
type Notifier struct {
	providers     []Provider
	breakers      map[string]*CircuitBreaker
	minConfidence float64
	metrics       *metrics.NotificationMetrics
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics records deliveries and filtered scans.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithCircuitBreaker overrides the per-provider breaker configuration.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(n *Notifier) {
		for name := range n.breakers {
			n.breakers[name] = NewCircuitBreaker(cfg)
		}
	}
}

// NewNotifier returns a notifier fanning out to providers.
func NewNotifier(minConfidence float64, providers []Provider, opts ...Option) *Notifier {
	n := &Notifier{
		providers:     providers,
		breakers:      make(map[string]*CircuitBreaker, len(providers)),
		minConfidence: minConfidence,
	}
	for _, p := range providers {
		n.breakers[p.Name()] = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements events.EventConsumer.
func (n *Notifier) Name() string { return "notification" }

// ProcessEvent implements events.EventConsumer.
func (n *Notifier) ProcessEvent(ctx context.Context, event events.ScanEvent) error {
	if reason, skip := n.filter(event); skip {
		if n.metrics != nil {
			n.metrics.RecordFiltered(reason)
		}
		return nil
	}

	msg := Compose(event)
	var errs []error
	for _, p := range n.providers {
		start := time.Now()
		err := n.breakers[p.Name()].Call(ctx, func(ctx context.Context) error {
			return p.Send(ctx, msg)
		})
		if n.metrics != nil {
			n.metrics.RecordDelivery(p.Name(), time.Since(start), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		GetLogger().Info("disease alert sent",
			logger.String("provider", p.Name()),
			logger.Uint64("scan_id", uint64(event.ScanID)),
			logger.String("label", event.Label))
	}
	return errors.Join(errs...)
}

func (n *Notifier) filter(event events.ScanEvent) (string, bool) {
	if strings.Contains(strings.ToLower(event.Label), "healthy") {
		return reasonHealthy, true
	}
	if event.Confidence < n.minConfidence {
		return reasonLowConfidence, true
	}
	return "", false
}

// Compose renders the alert text for event.
func Compose(event events.ScanEvent) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Scan #%d detected %s on %s with %.1f%% confidence.", event.ScanID, event.Label, event.Crop, event.Confidence*100)
	if event.Treatment != "" {
		fmt.Fprintf(&b, "\nTreatment: %s", event.Treatment)
	}
	if event.Geo != "" {
		fmt.Fprintf(&b, "\nLocation: %s", event.Geo)
	}
	return &Notification{
		Title:   "Crop disease detected: " + event.Label,
		Message: b.String(),
	}
}

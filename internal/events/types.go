// Package events fans persisted scans out to asynchronous consumers such as
// the MQTT publisher and disease alerts, keeping them off the request path.
package events

import (
	"context"
	"time"
)

// ScanEvent describes one persisted prediction.
type ScanEvent struct {
	ScanID     uint      `json:"scan_id"`
	CreatedAt  time.Time `json:"created_at"`
	Crop       string    `json:"crop"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Treatment  string    `json:"treatment"`
	Geo        string    `json:"geo,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// EventConsumer processes scan events. Implementations must be safe for
// concurrent use.
type EventConsumer interface {
	// Name identifies the consumer in logs and must be unique per bus.
	Name() string

	// ProcessEvent handles one event. ctx carries the per-event deadline.
	ProcessEvent(ctx context.Context, event ScanEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}

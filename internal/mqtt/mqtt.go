// Package mqtt publishes scan events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/cropscan/cropscan/internal/conf"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect resolves the broker host and connects. Attempts closer together
	// than the reconnect cooldown are rejected.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It fails when not connected.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// Disconnect closes the connection and stops reconnection attempts.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // default topic for scan events
	Retain            bool
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "cropscan",
		Topic:             "cropscan/scans",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings overlays the configured broker settings on DefaultConfig.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	if s.Timeout > 0 {
		cfg.PublishTimeout = s.Timeout
	}
	return cfg
}

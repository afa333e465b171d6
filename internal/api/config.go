// Package api provides the HTTP gateway of CropScan: prediction, scan history,
// reports and the pass-through integrations.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/labstack/gommon/bytes"

	"github.com/cropscan/cropscan/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "15M"

	// StatsWindow is the number of recent scans the admin histogram covers.
	StatsWindow = 1000
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port string

	AllowedOrigins []string
	BodyLimit      string // e.g. "15M", parsed with gommon bytes

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	AdminToken string
	TopK       int
	UploadsDir string // empty disables upload copies

	Version   string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            "8000",
		AllowedOrigins:  []string{"*"},
		BodyLimit:       DefaultBodyLimit,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		TopK:            3,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	cfg.Host = settings.Server.Host
	cfg.Port = settings.Server.Port
	if len(settings.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = settings.Server.AllowedOrigins
	}
	if settings.Server.BodyLimit != "" {
		cfg.BodyLimit = settings.Server.BodyLimit
	}
	if settings.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = settings.Server.ShutdownTimeout
	}
	cfg.AdminToken = settings.Security.AdminToken
	if settings.Prediction.TopK > 0 {
		cfg.TopK = settings.Prediction.TopK
	}
	cfg.UploadsDir = settings.UploadsDir
	cfg.Version = settings.Version
	cfg.BuildDate = settings.BuildDate
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	limit, err := bytes.Parse(c.BodyLimit)
	if err != nil {
		return fmt.Errorf("invalid body limit %q: %w", c.BodyLimit, err)
	}
	if limit <= 0 {
		return fmt.Errorf("body limit must be positive, got %q", c.BodyLimit)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

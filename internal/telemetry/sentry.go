// Package telemetry provides privacy-compliant error tracking through Sentry.
// Reporting is opt-in and every event passes through a scrubber before it
// leaves the process.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

const flushTimeout = 2 * time.Second

var sentryInitialized atomic.Bool

// Option adjusts the Sentry client options before initialization.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK and installs the error reporter.
// It is a no-op unless telemetry is enabled. The returned function flushes
// pending events and must be called before exit.
func InitSentry(settings *conf.SentrySettings, version string, opts ...Option) (func(), error) {
	if settings == nil || !settings.Enabled {
		GetLogger().Info("sentry telemetry is disabled (opt-in required)")
		errors.SetTelemetryReporter(nil)
		return func() {}, nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          "cropscan@" + version,
		BeforeSend:       beforeSend,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return func() {}, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":    "cropscan",
			"version": version,
		})
	})

	sentryInitialized.Store(true)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	GetLogger().Info("sentry telemetry initialized", logger.String("release", options.Release))

	return func() {
		if !sentry.Flush(flushTimeout) {
			GetLogger().Warn("sentry flush timed out")
		}
	}, nil
}

// IsInitialized reports whether InitSentry enabled reporting.
func IsInitialized() bool {
	return sentryInitialized.Load()
}

// beforeSend strips host identity and scrubs free text.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	for k := range event.Extra {
		if k != "component" && k != "error_type" {
			delete(event.Extra, k)
		}
	}

	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = errors.ScrubMessage(event.Breadcrumbs[i].Message)
	}
	return event
}

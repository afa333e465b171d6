package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// recordingTransport hands every event the SDK sends to a channel.
type recordingTransport struct {
	events chan *sentry.Event
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{events: make(chan *sentry.Event, 16)}
}

//nolint:gocritic // hugeParam: sentry.Transport signature
func (t *recordingTransport) Configure(sentry.ClientOptions) {}

func (t *recordingTransport) SendEvent(event *sentry.Event) {
	select {
	case t.events <- event:
	default:
	}
}

func (t *recordingTransport) Flush(time.Duration) bool { return true }

func (t *recordingTransport) FlushWithContext(ctx context.Context) bool { return ctx.Err() == nil }

func (t *recordingTransport) Close() {}

package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cropscan/cropscan/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingConsumer struct {
	name   string
	err    error
	panics bool
	delay  time.Duration

	mu     sync.Mutex
	events []ScanEvent
	calls  atomic.Int32
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) ProcessEvent(ctx context.Context, e ScanEvent) error {
	c.calls.Add(1)
	if c.panics {
		panic("boom")
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return c.err
}

func (c *recordingConsumer) received() []ScanEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScanEvent(nil), c.events...)
}

func TestEventBusFanOut(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(Config{BufferSize: 10, Workers: 2})
	a := &recordingConsumer{name: "a"}
	b := &recordingConsumer{name: "b"}
	require.NoError(t, bus.RegisterConsumer(a))
	require.NoError(t, bus.RegisterConsumer(b))
	bus.Start()

	for i := range 5 {
		require.True(t, bus.TryPublish(ScanEvent{ScanID: uint(i + 1), Label: "Tomato_healthy"}))
	}
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Len(t, a.received(), 5)
	assert.Len(t, b.received(), 5)
	stats := bus.GetStats()
	assert.Equal(t, uint64(5), stats.EventsReceived)
	assert.Equal(t, uint64(10), stats.EventsProcessed)
	assert.Zero(t, stats.ConsumerErrors)
}

func TestEventBusIsolatesFailingConsumers(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(Config{Workers: 1})
	good := &recordingConsumer{name: "good"}
	require.NoError(t, bus.RegisterConsumer(good))
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "failing", err: errors.NewStd("broker down")}))
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "panicking", panics: true}))
	bus.Start()

	require.True(t, bus.TryPublish(ScanEvent{ScanID: 1}))
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Len(t, good.received(), 1)
	assert.Equal(t, uint64(2), bus.GetStats().ConsumerErrors)
}

func TestEventBusConsumerDeadline(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(Config{Workers: 1, EventTimeout: 20 * time.Millisecond})
	slow := &recordingConsumer{name: "slow", delay: time.Minute}
	require.NoError(t, bus.RegisterConsumer(slow))
	bus.Start()

	require.True(t, bus.TryPublish(ScanEvent{ScanID: 1}))
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Empty(t, slow.received())
	assert.Equal(t, uint64(1), bus.GetStats().ConsumerErrors)
}

func TestTryPublishRejections(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(Config{BufferSize: 1, Workers: 1})
	assert.False(t, bus.TryPublish(ScanEvent{}), "stopped bus")

	bus.Start()
	assert.False(t, bus.TryPublish(ScanEvent{}), "no consumers")
	require.NoError(t, bus.Shutdown(time.Second))

	var nilBus *EventBus
	assert.False(t, nilBus.TryPublish(ScanEvent{}))
	assert.NoError(t, nilBus.Shutdown(time.Second))
}

func TestTryPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(Config{BufferSize: 1, Workers: 1})
	block := make(chan struct{})
	require.NoError(t, bus.RegisterConsumer(&blockingConsumer{release: block}))
	bus.Start()

	accepted := 0
	for range 10 {
		if bus.TryPublish(ScanEvent{}) {
			accepted++
		}
	}
	close(block)
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.Less(t, accepted, 10)
	assert.Equal(t, uint64(10-accepted), bus.GetStats().EventsDropped)
}

func TestRegisterConsumerRejectsDuplicates(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(DefaultConfig())
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "mqtt"}))
	err := bus.RegisterConsumer(&recordingConsumer{name: "mqtt"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 1, bus.Consumers())
}

type blockingConsumer struct {
	release chan struct{}
}

func (b *blockingConsumer) Name() string { return "blocking" }

func (b *blockingConsumer) ProcessEvent(ctx context.Context, _ ScanEvent) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

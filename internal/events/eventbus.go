package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// Config holds event bus configuration
type Config struct {
	BufferSize   int
	Workers      int
	EventTimeout time.Duration // deadline shared by all consumers of one event
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		Workers:      2,
		EventTimeout: 30 * time.Second,
	}
}

// EventBus provides asynchronous event processing with non-blocking publish.
type EventBus struct {
	eventChan chan ScanEvent
	config    Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer
	stats     EventBusStats
}

// NewEventBus creates a stopped bus. Call Start after registering consumers.
func NewEventBus(cfg Config) *EventBus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = def.EventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan: make(chan ScanEvent, cfg.BufferSize),
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryValidation).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	GetLogger().Info("registered event consumer", logger.String("consumer", consumer.Name()))
	return nil
}

// Consumers returns the number of registered consumers.
func (eb *EventBus) Consumers() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.consumers)
}

// Start launches the worker goroutines. It is a no-op when already running.
func (eb *EventBus) Start() {
	if eb.running.Swap(true) {
		return
	}

	GetLogger().Info("starting event bus workers",
		logger.Int("workers", eb.config.Workers),
		logger.Int("buffer_size", eb.config.BufferSize))

	for range eb.config.Workers {
		eb.wg.Go(eb.worker)
	}
}

// TryPublish queues an event without blocking. It returns false when the bus
// is stopped, has no consumers, or the buffer is full.
func (eb *EventBus) TryPublish(event ScanEvent) bool {
	if eb == nil || !eb.running.Load() || eb.Consumers() == 0 {
		return false
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		GetLogger().Debug("event dropped due to full buffer", logger.Uint64("scan_id", uint64(event.ScanID)))
		return false
	}
}

func (eb *EventBus) worker() {
	for {
		select {
		case <-eb.ctx.Done():
			eb.drain()
			return
		case event := <-eb.eventChan:
			eb.processEvent(event)
		}
	}
}

// drain processes events still buffered at shutdown.
func (eb *EventBus) drain() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event)
		default:
			return
		}
	}
}

// processEvent delivers event to every consumer concurrently. A failing or
// panicking consumer does not affect the others.
func (eb *EventBus) processEvent(event ScanEvent) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), eb.config.EventTimeout)
	defer cancel()

	var g errgroup.Group
	for _, consumer := range consumers {
		g.Go(func() error {
			if err := safeProcess(ctx, consumer, event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				GetLogger().Error("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Uint64("scan_id", uint64(event.ScanID)),
					logger.Error(err))
				return nil
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
			return nil
		})
	}
	_ = g.Wait()
}

func safeProcess(ctx context.Context, consumer EventConsumer, event ScanEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
		}
	}()
	return consumer.ProcessEvent(ctx, event)
}

// Shutdown stops accepting events, lets workers drain the buffer and waits
// up to timeout for them to finish.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.running.Swap(false) {
		return nil
	}

	GetLogger().Info("shutting down event bus", logger.Duration("timeout", timeout))
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		GetLogger().Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}

package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/agm/internal/logger"
)

// EventBus provides asynchronous event processing with non-blocking publish
type EventBus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer

	stats EventBusStats

	// dropLimiter keeps a full buffer from flooding the log
	dropLimiter *rate.Limiter

	logger logger.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int  `yaml:"buffer_size" mapstructure:"buffer_size"`
	Workers    int  `yaml:"workers" mapstructure:"workers"`
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1000,
		Workers:    2,
		Enabled:    true,
	}
}

var (
	globalEventBus *EventBus
	globalMutex    sync.Mutex
)

// ErrEventBusDisabled is returned by Initialize when the config disables the bus
var ErrEventBusDisabled = fmt.Errorf("event bus disabled")

// New creates a standalone event bus. Workers start with the first consumer.
func New(config *Config) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan:   make(chan Event, config.BufferSize),
		bufferSize:  config.BufferSize,
		workers:     config.Workers,
		ctx:         ctx,
		cancel:      cancel,
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:      logger.Global().Module("events"),
	}
}

// Initialize creates or returns the global event bus instance
func Initialize(config *Config) (*EventBus, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalEventBus != nil {
		return globalEventBus, nil
	}
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil, ErrEventBusDisabled
	}

	globalEventBus = New(config)
	globalEventBus.logger.Info("event bus initialized",
		logger.Int("buffer_size", globalEventBus.bufferSize),
		logger.Int("workers", globalEventBus.workers))
	return globalEventBus, nil
}

// GetEventBus returns the global event bus instance, nil before Initialize
func GetEventBus() *EventBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus
}

// ResetForTesting drops the global instance without shutting it down
func ResetForTesting() {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalEventBus = nil
}

// RegisterConsumer adds a consumer; the first one starts the workers
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.ctx.Err() != nil {
		return fmt.Errorf("event bus shut down")
	}
	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if !eb.running.Load() {
		eb.start()
	}
	return nil
}

// HasConsumers reports whether publishing would reach anyone
func (eb *EventBus) HasConsumers() bool {
	if eb == nil {
		return false
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.consumers) > 0
}

// TryPublish enqueues event without blocking.
// Returns false when the bus is not running, has no consumers, or is full.
func (eb *EventBus) TryPublish(event Event) bool {
	if eb == nil || event == nil || !eb.running.Load() || !eb.HasConsumers() {
		return false
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		if eb.dropLimiter.Allow() {
			eb.logger.Debug("event dropped due to full buffer",
				logger.String("component", event.GetComponent()),
				logger.Uint64("dropped_total", atomic.LoadUint64(&eb.stats.EventsDropped)))
		}
		return false
	}
}

// start launches the workers; caller holds eb.mu
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	eb.logger.Debug("starting event bus workers", logger.Int("count", eb.workers))
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.logger.With(logger.Int("worker_id", id))
	for {
		select {
		case <-eb.ctx.Done():
			eb.drain(log)
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// drain processes whatever is already queued at shutdown
func (eb *EventBus) drain(log logger.Logger) {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		default:
			return
		}
	}
}

// processEvent delivers event to a snapshot of the consumers
func (eb *EventBus) processEvent(event Event, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("component", event.GetComponent()))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Error(err),
					logger.String("component", event.GetComponent()))
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting events, drains the queue and waits for the workers
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil {
		return nil
	}

	eb.mu.Lock()
	eb.running.Store(false)
	eb.cancel()
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/logger"
)

// Recorder receives operation and lifecycle metrics
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
	RecordTransition(entity, from, to string)
	RecordCallback(kind string)
}

// Publisher accepts lifecycle events without blocking
type Publisher interface {
	TryPublish(event events.Event) bool
}

// DefaultEventQueueSize is the dispatch queue size used when
// Config.EventQueueSize is zero
const DefaultEventQueueSize = 256

// Config wires a pool to its collaborators. Metrics and Events are
// optional.
type Config struct {
	Registry *device.Registry
	Engine   graph.Engine
	Metrics  Recorder
	Events   Publisher
	// EventQueueSize bounds the queue between the engine and the dispatcher
	// goroutine that runs callbacks. Engines raise events from inside calls
	// made under a session lock, so handlers always run on the dispatcher.
	// Events arriving while the queue is full are dropped.
	EventQueueSize int
}

type queuedEvent struct {
	sess *Session
	ev   graph.Event
}

// Pool owns every session of the process
type Pool struct {
	registry *device.Registry
	engine   graph.Engine
	metrics  Recorder
	events   Publisher
	log      logger.Logger

	// hwep serializes device connect, disconnect, start and stop across
	// all sessions
	hwep sync.Mutex

	// mu guards the session table. Sessions take its read lock while
	// holding their own, so the pool must never call into a session, or
	// wait on one, with mu held.
	mu       sync.RWMutex
	sessions map[uint32]*Session
	order    []uint32
	closed   bool

	queue chan queuedEvent
	done  chan struct{}
}

// NewPool creates an empty pool
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Registry == nil || cfg.Engine == nil {
		return nil, errors.New(fmt.Errorf("pool needs a device registry and a graph engine: %w", ErrInvalidArgument)).
			Component(ComponentSession).
			Category(errors.CategoryValidation).
			Context("operation", "new_pool").
			Build()
	}
	queueSize := cfg.EventQueueSize
	switch {
	case queueSize < 0:
		return nil, errors.New(fmt.Errorf("event queue size %d: %w", queueSize, ErrInvalidArgument)).
			Component(ComponentSession).
			Category(errors.CategoryValidation).
			Context("operation", "new_pool").
			Build()
	case queueSize == 0:
		queueSize = DefaultEventQueueSize
	}

	p := &Pool{
		registry: cfg.Registry,
		engine:   cfg.Engine,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		log:      logger.Global().Module("session"),
		sessions: make(map[uint32]*Session),
		queue:    make(chan queuedEvent, queueSize),
		done:     make(chan struct{}),
	}
	p.registry.SetObserver(p.observeDevice)
	go p.dispatch()
	return p, nil
}

// Registry returns the device catalog the pool resolves interfaces against
func (p *Pool) Registry() *device.Registry { return p.registry }

// GetOrCreate returns the session for id, creating a closed one on first use
func (p *Pool) GetOrCreate(id uint32) (*Session, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	if s, ok := p.sessions[id]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if s, ok := p.sessions[id]; ok {
		return s, nil
	}
	s := newSession(id, p)
	p.sessions[id] = s
	p.order = append(p.order, id)
	p.log.Debug("session created", logger.SessionID(id))
	return s, nil
}

// Get returns an existing session
func (p *Pool) Get(id uint32) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.sessions[id]; ok {
		return s, nil
	}
	return nil, errors.New(fmt.Errorf("session %d: %w", id, ErrSessionNotFound)).
		Component(ComponentSession).
		Category(errors.CategoryNotFound).
		Context("session_id", id).
		Build()
}

// List returns the sessions in creation order
func (p *Pool) List() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Session, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.sessions[id])
	}
	return out
}

// Close closes every open session in creation order and stops event
// dispatch. The pool rejects new sessions afterwards. Failures are joined.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.order))
	for _, id := range p.order {
		sessions = append(sessions, p.sessions[id])
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if s.State() == StateClosed {
			continue
		}
		if err := s.Close(ctx); err != nil && !errors.Is(err, ErrInvalidState) {
			p.log.Warn("session close failed",
				logger.SessionID(s.ID()),
				logger.Error(err))
			errs = append(errs, err)
		}
	}

	// senders check closed under the read lock, so none is in flight
	p.mu.Lock()
	close(p.queue)
	p.mu.Unlock()
	<-p.done
	p.log.Info("session pool closed", logger.Int("sessions", len(sessions)))
	return errors.Join(errs...)
}

// handleEngineEvent is the callback registered with every graph
func (p *Pool) handleEngineEvent(sessionID uint32, ev graph.Event) {
	s, err := p.Get(sessionID)
	if err != nil {
		p.log.Debug("event for unknown session dropped",
			logger.SessionID(sessionID),
			logger.Uint32("event_id", ev.EventID))
		return
	}
	p.enqueue(s, ev)
}

// enqueue hands an event to the dispatcher without blocking
func (p *Pool) enqueue(s *Session, ev graph.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- queuedEvent{sess: s, ev: ev}:
	default:
		p.log.Warn("event queue full, event dropped",
			logger.SessionID(s.ID()),
			logger.Uint32("event_id", ev.EventID))
		if p.metrics != nil {
			p.metrics.RecordError("deliver_event", "queue_full")
		}
	}
}

func (p *Pool) dispatch() {
	defer close(p.done)
	for qe := range p.queue {
		qe.sess.deliver(qe.ev)
	}
}

func (p *Pool) observeDevice(d *device.Device, operation string, from, to device.State) {
	p.recordTransition(events.EntityDevice, from.String(), to.String())
	p.publish(events.NewStateEvent(device.ComponentDevice, events.EntityDevice, 0, d.ID(), operation, from.String(), to.String()))
}

func (p *Pool) recordOperation(operation string, d time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordDuration(operation, d.Seconds())
	if err != nil {
		p.metrics.RecordOperation(operation, "error")
		p.metrics.RecordError(operation, string(errors.CategoryOf(err)))
		return
	}
	p.metrics.RecordOperation(operation, "success")
}

func (p *Pool) recordTransition(entity, from, to string) {
	if p.metrics != nil {
		p.metrics.RecordTransition(entity, from, to)
	}
}

func (p *Pool) recordCallback(kind string) {
	if p.metrics != nil {
		p.metrics.RecordCallback(kind)
	}
}

func (p *Pool) publish(ev events.Event) {
	if p.events != nil {
		p.events.TryPublish(ev)
	}
}

package session

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/logger"
)

// EventKind selects which engine events a callback receives
type EventKind int

const (
	// DataPath callbacks get read/write completions and EOS from the engine
	DataPath EventKind = iota
	// Module callbacks get events raised by DSP modules
	Module
)

func (k EventKind) String() string {
	if k == Module {
		return "module"
	}
	return "data_path"
}

// accepts reports whether an event belongs to this kind
func (k EventKind) accepts(ev graph.Event) bool {
	if ev.EventID == graph.EventEarlyEOS && ev.SourceModuleID == graph.ModuleGSL {
		return true
	}
	if k == Module {
		return ev.IsModule()
	}
	return ev.IsDataPath()
}

// Handler receives events for a session. It runs on the pool's dispatcher
// goroutine without any session lock and may call back into the session.
// It must not close the pool, which waits for the dispatcher to finish.
type Handler func(sessionID uint32, ev graph.Event, clientData any)

type subscription struct {
	id         uuid.UUID
	kind       EventKind
	fn         Handler
	clientData any
}

// RegisterCallback subscribes fn to events of kind. clientData is handed
// back on every call and must be comparable. A nil fn removes every
// subscription of kind registered with the same clientData; the returned id
// is then uuid.Nil.
func (s *Session) RegisterCallback(kind EventKind, fn Handler, clientData any) (uuid.UUID, error) {
	if clientData != nil && !reflect.TypeOf(clientData).Comparable() {
		return uuid.Nil, errors.New(fmt.Errorf("session %d: callback client data of type %T is not comparable: %w", s.id, clientData, ErrInvalidArgument)).
			Component(ComponentSession).
			Category(errors.CategoryValidation).
			Context("operation", "register_callback").
			Context("session_id", s.id).
			Build()
	}

	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if fn == nil {
		kept := s.callbacks[:0]
		for _, sub := range s.callbacks {
			if sub.kind == kind && sub.clientData == clientData {
				continue
			}
			kept = append(kept, sub)
		}
		clear(s.callbacks[len(kept):])
		s.callbacks = kept
		return uuid.Nil, nil
	}

	sub := &subscription{
		id:         uuid.New(),
		kind:       kind,
		fn:         fn,
		clientData: clientData,
	}
	s.callbacks = append(s.callbacks, sub)
	s.log.Debug("callback registered",
		logger.String("kind", kind.String()),
		logger.String("subscription", sub.id.String()))
	return sub.id, nil
}

// Unregister removes one subscription and reports whether it existed
func (s *Session) Unregister(id uuid.UUID) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	for i, sub := range s.callbacks {
		if sub.id == id {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// CallbackCount returns the number of live subscriptions
func (s *Session) CallbackCount() int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	return len(s.callbacks)
}

// deliver fans an event out to matching subscribers. The list is
// snapshotted so handlers may register or unregister while running.
func (s *Session) deliver(ev graph.Event) {
	s.cbMu.Lock()
	subs := make([]*subscription, 0, len(s.callbacks))
	for _, sub := range s.callbacks {
		if sub.kind.accepts(ev) {
			subs = append(subs, sub)
		}
	}
	s.cbMu.Unlock()

	for _, sub := range subs {
		sub.fn(s.id, ev, sub.clientData)
		s.pool.recordCallback(sub.kind.String())
	}
}

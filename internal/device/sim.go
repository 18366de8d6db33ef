package device

import (
	"context"
	"sync"
)

// Op names a backend lifecycle call
type Op string

const (
	OpOpen    Op = "open"
	OpPrepare Op = "prepare"
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpClose   Op = "close"
)

// Call records one backend invocation
type Call struct {
	Op       Op
	DeviceID uint32
}

type failKey struct {
	op Op
	id uint32
}

// SimBackend is an in-memory Backend. It records every call and can be told
// to fail specific operations on specific devices.
type SimBackend struct {
	mu       sync.Mutex
	calls    []Call
	failures map[failKey]error
	states   map[uint32]State
}

// NewSimBackend returns an empty simulated backend
func NewSimBackend() *SimBackend {
	return &SimBackend{
		failures: make(map[failKey]error),
		states:   make(map[uint32]State),
	}
}

// Fail makes every later op on device id return err until Clear is called
func (s *SimBackend) Fail(op Op, id uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failKey{op, id}] = err
}

// Clear removes all injected failures
func (s *SimBackend) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.failures)
}

// Calls returns the recorded invocations in order
func (s *SimBackend) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset forgets recorded calls
func (s *SimBackend) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *SimBackend) do(ctx context.Context, op Op, d *Device, to State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, DeviceID: d.ID()})
	if err, ok := s.failures[failKey{op, d.ID()}]; ok {
		return err
	}
	s.states[d.ID()] = to
	return nil
}

func (s *SimBackend) Open(ctx context.Context, d *Device) error {
	return s.do(ctx, OpOpen, d, StateOpened)
}

func (s *SimBackend) Prepare(ctx context.Context, d *Device) error {
	return s.do(ctx, OpPrepare, d, StatePrepared)
}

func (s *SimBackend) Start(ctx context.Context, d *Device) error {
	return s.do(ctx, OpStart, d, StateStarted)
}

func (s *SimBackend) Stop(ctx context.Context, d *Device) error {
	return s.do(ctx, OpStop, d, StateStopped)
}

func (s *SimBackend) Close(ctx context.Context, d *Device) error {
	return s.do(ctx, OpClose, d, StateClosed)
}

func (s *SimBackend) State(d *Device) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[d.ID()]
}

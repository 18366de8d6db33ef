// Package session implements the audio session core: sessions bound to
// shared hardware devices through audio interfaces, the lifecycle state
// machine that drives their processing graphs, cross-session loopback and
// echo-reference routing, and event delivery to subscribers.
//
// Lock order is session, then the pool's hardware-endpoint lock, then
// device. Every connect, disconnect, start and stop of a device-attached
// session holds the hardware-endpoint lock, and nothing takes a session
// lock while holding it. The pool never calls into a session while holding
// its own lock, so sessions may take the pool's read lock for lookups at any
// point.
//
// The only nesting of two session locks is a capture session reading the
// metadata of its playback loopback partner. A session waits on another's
// lock only while it is itself capture, and only after seeing the other as
// playback; the direction cannot change while a session is open, so no
// cycle of waiters can form. The callback list has its own lock and
// handlers run without any session lock.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/metadata"
)

// Direction of a stream
type Direction int

const (
	// Playback streams render to hardware (RX)
	Playback Direction = iota
	// Capture streams record from hardware (TX)
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Mode selects whether a session has a device leg
type Mode int

const (
	// ModeDefault sessions are attached to devices through interfaces
	ModeDefault Mode = iota
	// ModeNonTunnel sessions exchange data with the client only
	ModeNonTunnel
	// ModeNoConfig sessions run a graph with no device and no device config
	ModeNoConfig
)

func (m Mode) String() string {
	switch m {
	case ModeNonTunnel:
		return "non-tunnel"
	case ModeNoConfig:
		return "no-config"
	default:
		return "default"
	}
}

// ParseMode maps the names returned by Mode.String back to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "default":
		return ModeDefault, nil
	case "non-tunnel":
		return ModeNonTunnel, nil
	case "no-config":
		return ModeNoConfig, nil
	default:
		return ModeDefault, invalidArgument("parse_mode", "unknown session mode %q", s)
	}
}

// ParseDirection maps "playback" and "capture" to a Direction
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "playback":
		return Playback, nil
	case "capture":
		return Capture, nil
	default:
		return Playback, invalidArgument("parse_direction", "unknown stream direction %q", s)
	}
}

// hasDevices reports whether the mode carries a device leg
func (m Mode) hasDevices() bool {
	return m == ModeDefault
}

// State of a session
type State int32

const (
	StateClosed State = iota
	StateOpened
	StatePrepared
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StatePrepared:
		return "prepared"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StreamConfig is the client's description of the stream
type StreamConfig struct {
	Direction Direction          `json:"direction"`
	Media     graph.MediaConfig  `json:"media"`
	Buffer    graph.BufferConfig `json:"buffer"`
}

// crossLink is a loopback or EC reference request
type crossLink struct {
	target  uint32
	enabled bool
	md      *metadata.Metadata // edge metadata while applied
}

// Session is one client-visible stream
type Session struct {
	id   uint32
	pool *Pool
	log  logger.Logger

	mu       sync.Mutex
	state    State
	shared   atomic.Int32 // mirror of state readable without mu
	dir      atomic.Int32 // mirror of config.Direction
	mode     Mode
	config   StreamConfig
	aifs     []*AudioInterface
	aifIndex map[uint32]*AudioInterface
	g        *graph.Graph
	md       *metadata.Metadata
	params   []byte
	loopback crossLink
	ecRef    crossLink

	cbMu      sync.Mutex
	callbacks []*subscription
}

func newSession(id uint32, p *Pool) *Session {
	return &Session{
		id:       id,
		pool:     p,
		log:      p.log.With(logger.SessionID(id)),
		aifIndex: make(map[uint32]*AudioInterface),
		md:       &metadata.Metadata{},
	}
}

// ID returns the session id
func (s *Session) ID() uint32 { return s.id }

// State returns the current lifecycle state without taking the session lock
func (s *Session) State() State {
	return State(s.shared.Load())
}

// Direction returns the configured stream direction without taking the
// session lock
func (s *Session) Direction() Direction {
	return Direction(s.dir.Load())
}

// Mode returns the mode of the last Open
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// HasGraph reports whether the session holds a live graph handle
func (s *Session) HasGraph() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g != nil
}

// Graph returns the live graph handle or nil
func (s *Session) Graph() *graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g
}

// AIFState returns the state of an interface the session has referenced
func (s *Session) AIFState(aifID uint32) (AIFState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aif, err := s.lookupAIF(aifID)
	if err != nil {
		return AIFClosed, err
	}
	return aif.state, nil
}

// ConnectedCount returns how many interfaces are connected to the graph
func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countAtLeast(AIFOpened)
}

// Info is a point-in-time view of a session
type Info struct {
	ID         uint32       `json:"id"`
	State      string       `json:"state"`
	Mode       string       `json:"mode"`
	Direction  string       `json:"direction"`
	HasGraph   bool         `json:"has_graph"`
	Metadata   string       `json:"metadata"`
	Loopback   *LinkInfo    `json:"loopback,omitempty"`
	ECRef      *LinkInfo    `json:"ec_ref,omitempty"`
	Interfaces []AIFInfo    `json:"interfaces"`
	Config     StreamConfig `json:"config"`
}

// LinkInfo describes a loopback or EC reference request
type LinkInfo struct {
	Target  uint32 `json:"target"`
	Enabled bool   `json:"enabled"`
}

// Info snapshots the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:         s.id,
		State:      s.state.String(),
		Mode:       s.mode.String(),
		Direction:  s.config.Direction.String(),
		HasGraph:   s.g != nil,
		Metadata:   s.md.String(),
		Config:     s.config,
		Interfaces: make([]AIFInfo, 0, len(s.aifs)),
	}
	if s.loopback.enabled {
		info.Loopback = &LinkInfo{Target: s.loopback.target, Enabled: true}
	}
	if s.ecRef.enabled {
		info.ECRef = &LinkInfo{Target: s.ecRef.target, Enabled: true}
	}
	for _, aif := range s.aifs {
		info.Interfaces = append(info.Interfaces, aif.info())
	}
	return info
}

// setState records a session transition. Caller holds the session lock.
func (s *Session) setState(operation string, to State) {
	from := s.state
	s.state = to
	s.shared.Store(int32(to))
	if from == to {
		return
	}
	s.log.Info("session state changed",
		logger.String("operation", operation),
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	s.pool.recordTransition(events.EntitySession, from.String(), to.String())
	s.pool.publish(events.NewStateEvent(ComponentSession, events.EntitySession, s.id, s.id, operation, from.String(), to.String()))
}

func (s *Session) publishAIF(aif *AudioInterface, operation string, from, to AIFState) {
	s.log.Debug("interface state changed",
		logger.AIFID(aif.id),
		logger.String("operation", operation),
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	s.pool.recordTransition(events.EntityAIF, from.String(), to.String())
	s.pool.publish(events.NewStateEvent(ComponentSession, events.EntityAIF, s.id, aif.id, operation, from.String(), to.String()))
}

// mergedMetadata is the session's full merge: for every interface not
// closed, session + session×interface + device, accumulated in order.
// Non-tunnel sessions and sessions without interfaces use the session layer
// alone. Caller holds the session lock.
func (s *Session) mergedMetadata() *metadata.Metadata {
	if s.mode == ModeNonTunnel {
		return s.md.Clone()
	}
	var merged *metadata.Metadata
	for _, aif := range s.aifs {
		if aif.state == AIFClosed {
			continue
		}
		merged = metadata.Merge(merged, s.md, aif.md, aif.dev.Metadata())
	}
	if merged == nil {
		return s.md.Clone()
	}
	return merged
}

// mergedWithoutDevices is mergedMetadata without the device layers.
// Caller holds the session lock.
func (s *Session) mergedWithoutDevices() *metadata.Metadata {
	var merged *metadata.Metadata
	for _, aif := range s.aifs {
		if aif.state == AIFClosed {
			continue
		}
		merged = metadata.Merge(merged, s.md, aif.md)
	}
	if merged == nil {
		return s.md.Clone()
	}
	return merged
}

// lockedMergedMetadata is mergedMetadata for a session whose lock the
// caller does not hold
func (s *Session) lockedMergedMetadata() *metadata.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedMetadata()
}

// observe times a client operation; use as defer s.observe("op")(&err)
func (s *Session) observe(operation string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		s.pool.recordOperation(operation, time.Since(start), *errp)
	}
}

// rollbackWarn logs a best-effort rollback step that failed
func (s *Session) rollbackWarn(ctx context.Context, step string, err error) {
	if err == nil {
		return
	}
	s.log.WithContext(ctx).Warn("rollback step failed",
		logger.String("step", step),
		logger.Error(err))
}

package session

import (
	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/metadata"
)

// AIFState is the lifecycle of a session's binding to one device. The values
// are ordered: a connected interface is one that is AtLeast(AIFOpened).
type AIFState int

const (
	AIFClosed AIFState = iota
	// AIFClose marks a disconnect in progress
	AIFClose
	// AIFOpen marks a connect requested but not yet performed
	AIFOpen
	AIFOpened
	AIFPrepared
	AIFStarted
	AIFStopped
)

// AtLeast reports whether s is at or past threshold
func (s AIFState) AtLeast(threshold AIFState) bool {
	return s >= threshold
}

func (s AIFState) String() string {
	switch s {
	case AIFClosed:
		return "closed"
	case AIFClose:
		return "close"
	case AIFOpen:
		return "open"
	case AIFOpened:
		return "opened"
	case AIFPrepared:
		return "prepared"
	case AIFStarted:
		return "started"
	case AIFStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AudioInterface binds a session to one shared device. All fields are
// guarded by the owning session's lock.
type AudioInterface struct {
	id        uint32
	sess      *Session
	dev       *device.Device
	state     AIFState
	md        *metadata.Metadata
	params    []byte
	tagParams []byte
}

// AIFInfo is a point-in-time view of an interface
type AIFInfo struct {
	ID                uint32 `json:"id"`
	DeviceName        string `json:"device_name"`
	State             string `json:"state"`
	DeviceState       string `json:"device_state"`
	PendingParams     bool   `json:"pending_params"`
	PendingTagParams  bool   `json:"pending_tag_params"`
	MetadataKeyVector string `json:"metadata"`
}

func (a *AudioInterface) info() AIFInfo {
	return AIFInfo{
		ID:                a.id,
		DeviceName:        a.dev.Name(),
		State:             a.state.String(),
		DeviceState:       a.dev.State().String(),
		PendingParams:     a.params != nil,
		PendingTagParams:  a.tagParams != nil,
		MetadataKeyVector: a.md.String(),
	}
}

// setState records an interface transition. Caller holds the session lock.
func (a *AudioInterface) setState(operation string, to AIFState) {
	from := a.state
	a.state = to
	if from != to {
		a.sess.publishAIF(a, operation, from, to)
	}
}

// merged is the 3-way merge session + session×interface + device
func (a *AudioInterface) merged() *metadata.Metadata {
	return metadata.Merge(a.sess.md, a.md, a.dev.Metadata())
}

// getOrCreateAIF returns the session's interface for id, creating a closed
// one bound to the catalog device on first reference. Caller holds the
// session lock.
func (s *Session) getOrCreateAIF(id uint32) (*AudioInterface, error) {
	if aif, ok := s.aifIndex[id]; ok {
		return aif, nil
	}
	dev, err := s.pool.registry.Get(id)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentSession).
			Context("session_id", s.id).
			Context("aif_id", id).
			Build()
	}
	aif := &AudioInterface{
		id:    id,
		sess:  s,
		dev:   dev,
		state: AIFClosed,
		md:    &metadata.Metadata{},
	}
	s.aifs = append(s.aifs, aif)
	s.aifIndex[id] = aif
	return aif, nil
}

// lookupAIF returns an existing interface. Caller holds the session lock.
func (s *Session) lookupAIF(id uint32) (*AudioInterface, error) {
	if aif, ok := s.aifIndex[id]; ok {
		return aif, nil
	}
	return nil, errors.New(ErrAIFNotFound).
		Component(ComponentSession).
		Context("session_id", s.id).
		Context("aif_id", id).
		Build()
}

// countAtLeast counts interfaces at or past threshold. Caller holds the
// session lock.
func (s *Session) countAtLeast(threshold AIFState) int {
	n := 0
	for _, aif := range s.aifs {
		if aif.state.AtLeast(threshold) {
			n++
		}
	}
	return n
}

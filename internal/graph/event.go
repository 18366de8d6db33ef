package graph

// ModuleGSL is the source module id of events raised by the engine's
// own data path rather than by a DSP module.
const ModuleGSL uint32 = 0x2001

// Event ids raised on the data path
const (
	EventReadDone    uint32 = 0x0
	EventWriteDone   uint32 = 0x1
	EventEOSRendered uint32 = 0x2
	// EventEarlyEOS is delivered locally when a session is flushed
	EventEarlyEOS uint32 = 0x3
)

// Event is one asynchronous notification from the engine
type Event struct {
	SessionID      uint32 `json:"session_id"`
	SourceModuleID uint32 `json:"source_module_id"`
	EventID        uint32 `json:"event_id"`
	Payload        []byte `json:"payload,omitempty"`
}

// IsDataPath reports whether the event is a GSL read/write/EOS completion
func (e Event) IsDataPath() bool {
	if e.SourceModuleID != ModuleGSL {
		return false
	}
	switch e.EventID {
	case EventEOSRendered, EventReadDone, EventWriteDone:
		return true
	}
	return false
}

// IsModule reports whether the event was raised by a DSP module
func (e Event) IsModule() bool {
	return e.SourceModuleID != ModuleGSL
}

// Callback receives engine events. The engine picks the goroutine.
type Callback func(sessionID uint32, ev Event)

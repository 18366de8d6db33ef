package graph

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/metadata"
)

// ComponentGraph identifies errors from this package
const ComponentGraph = "graph"

// ErrUnknownGraph is returned by SimEngine for handles it does not know
var ErrUnknownGraph = errors.New(nil).
	Component(ComponentGraph).
	Category(errors.CategoryNotFound).
	Context("resource", "graph").
	Build()

// Op names an engine call recorded by SimEngine
type Op string

const (
	OpOpen               Op = "open"
	OpAdd                Op = "add"
	OpRemove             Op = "remove"
	OpChange             Op = "change"
	OpPrepare            Op = "prepare"
	OpStart              Op = "start"
	OpStop               Op = "stop"
	OpPause              Op = "pause"
	OpResume             Op = "resume"
	OpFlush              Op = "flush"
	OpSuspend            Op = "suspend"
	OpClose              Op = "close"
	OpRead               Op = "read"
	OpWrite              Op = "write"
	OpEOS                Op = "eos"
	OpSetConfig          Op = "set_config"
	OpGetConfig          Op = "get_config"
	OpSetConfigWithTag   Op = "set_config_with_tag"
	OpSetCal             Op = "set_cal"
	OpSetMediaConfig     Op = "set_media_config"
	OpSetGapless         Op = "set_gapless_metadata"
	OpRegisterCallback   Op = "register_callback"
	OpRegisterForEvents  Op = "register_for_events"
	OpGetTags            Op = "get_tags_with_module_info"
	OpGetSessionTime     Op = "get_session_time"
	OpGetBufferTimestamp Op = "get_buffer_timestamp"
	OpGetHWProcessed     Op = "get_hw_processed_count"
)

// AnyDevice matches every device when injecting failures
const AnyDevice = ^uint32(0)

// Graph states tracked by SimEngine
const (
	StateOpen     = "open"
	StatePrepared = "prepared"
	StateStarted  = "started"
	StateStopped  = "stopped"
	StatePaused   = "paused"
)

// Call is one recorded engine invocation
type Call struct {
	Op        Op
	GraphID   uint64
	SessionID uint32
	DeviceID  uint32 // 0 when no device is involved
	Metadata  *metadata.Metadata
	Blob      []byte
}

type simGraph struct {
	id        uint64
	sessionID uint32
	state     string
	edges     map[string]uint32 // edge key -> device id (0 for loopback edges)
	callback  Callback
	data      *ringbuffer.RingBuffer
	config    []byte
	processed uint64
	written   uint64
}

// SimEngine is an in-memory Engine. It keeps per-graph state and device
// edges, records every call in order and backs the data path with a ring
// buffer per graph, so bytes written to a graph can be read back.
type SimEngine struct {
	bufferSize int

	mu       sync.Mutex
	nextID   uint64
	graphs   map[uint64]*simGraph
	calls    []Call
	failures map[Op]map[uint32]error
}

// NewSimEngine creates a simulated engine whose graphs buffer up to
// bufferSize bytes on the data path
func NewSimEngine(bufferSize int) *SimEngine {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &SimEngine{
		bufferSize: bufferSize,
		graphs:     make(map[uint64]*simGraph),
		failures:   make(map[Op]map[uint32]error),
	}
}

// Fail makes op return err for the given device id (or AnyDevice) until
// Clear is called. Calls without a device match only AnyDevice.
func (e *SimEngine) Fail(op Op, deviceID uint32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures[op] == nil {
		e.failures[op] = make(map[uint32]error)
	}
	e.failures[op][deviceID] = err
}

// Clear removes every injected failure
func (e *SimEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.failures)
}

// Calls returns the recorded calls in order
func (e *SimEngine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// CallsOf returns the recorded calls of one kind
func (e *SimEngine) CallsOf(op Op) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls but keeps graph state
func (e *SimEngine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// GraphState returns the tracked state of g and whether it is still open
func (e *SimEngine) GraphState(g *Graph) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g == nil {
		return "", false
	}
	sg, ok := e.graphs[g.ID]
	if !ok {
		return "", false
	}
	return sg.state, true
}

// Devices returns the device ids currently attached to g, ascending
func (e *SimEngine) Devices(g *Graph) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g == nil {
		return nil
	}
	sg, ok := e.graphs[g.ID]
	if !ok {
		return nil
	}
	var ids []uint32
	for _, id := range sg.edges {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// EdgeCount returns every edge of g, loopback and EC reference included
func (e *SimEngine) EdgeCount(g *Graph) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g == nil {
		return 0
	}
	if sg, ok := e.graphs[g.ID]; ok {
		return len(sg.edges)
	}
	return 0
}

// OpenGraphs returns how many graphs have not been closed
func (e *SimEngine) OpenGraphs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.graphs)
}

// Emit delivers ev to the callback registered on the session's graph
func (e *SimEngine) Emit(sessionID uint32, ev Event) bool {
	e.mu.Lock()
	var cb Callback
	for _, sg := range e.graphs {
		if sg.sessionID == sessionID && sg.callback != nil {
			cb = sg.callback
			break
		}
	}
	e.mu.Unlock()

	if cb == nil {
		return false
	}
	ev.SessionID = sessionID
	cb(sessionID, ev)
	return true
}

func edgeKey(md *metadata.Metadata) string {
	if md == nil {
		return ""
	}
	return fmt.Sprintf("%v|%v", md.GKV, md.CKV)
}

func deviceID(dev *device.Device) uint32 {
	if dev == nil {
		return 0
	}
	return dev.ID()
}

// record appends the call and returns the graph plus any injected failure.
// The caller must hold e.mu.
func (e *SimEngine) record(c Call) (*simGraph, error) {
	e.calls = append(e.calls, c)
	if byDevice, ok := e.failures[c.Op]; ok {
		if c.DeviceID != 0 {
			if err, ok := byDevice[c.DeviceID]; ok {
				return nil, wrapSim(err, c)
			}
		}
		if err, ok := byDevice[AnyDevice]; ok {
			return nil, wrapSim(err, c)
		}
	}
	if c.Op == OpOpen || c.Op == OpGetTags {
		return nil, nil
	}
	sg, ok := e.graphs[c.GraphID]
	if !ok {
		return nil, errors.New(ErrUnknownGraph).
			Component(ComponentGraph).
			Context("operation", string(c.Op)).
			Context("graph_id", c.GraphID).
			Build()
	}
	return sg, nil
}

func wrapSim(err error, c Call) error {
	return fmt.Errorf("sim engine %s: %w", c.Op, err)
}

func graphID(g *Graph) uint64 {
	if g == nil {
		return 0
	}
	return g.ID
}

func (e *SimEngine) simple(op Op, g *Graph, apply func(sg *simGraph)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: op, GraphID: graphID(g)})
	if err != nil {
		return err
	}
	if apply != nil {
		apply(sg)
	}
	return nil
}

func (e *SimEngine) Open(_ context.Context, md *metadata.Metadata, sessionID uint32, dev *device.Device) (*Graph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.record(Call{Op: OpOpen, SessionID: sessionID, DeviceID: deviceID(dev), Metadata: md.Clone()}); err != nil {
		return nil, err
	}
	e.nextID++
	sg := &simGraph{
		id:        e.nextID,
		sessionID: sessionID,
		state:     StateOpen,
		edges:     make(map[string]uint32),
		data:      ringbuffer.New(e.bufferSize),
	}
	if dev != nil {
		sg.edges[edgeKey(md)] = dev.ID()
	}
	e.graphs[sg.id] = sg
	return &Graph{ID: sg.id, SessionID: sessionID}, nil
}

func (e *SimEngine) Add(_ context.Context, g *Graph, md *metadata.Metadata, dev *device.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpAdd, GraphID: graphID(g), DeviceID: deviceID(dev), Metadata: md.Clone()})
	if err != nil {
		return err
	}
	sg.edges[edgeKey(md)] = deviceID(dev)
	return nil
}

func (e *SimEngine) Remove(_ context.Context, g *Graph, md *metadata.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpRemove, GraphID: graphID(g), Metadata: md.Clone()})
	if err != nil {
		return err
	}
	delete(sg.edges, edgeKey(md))
	return nil
}

func (e *SimEngine) Change(_ context.Context, g *Graph, md *metadata.Metadata, dev *device.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpChange, GraphID: graphID(g), DeviceID: deviceID(dev), Metadata: md.Clone()})
	if err != nil {
		return err
	}
	clear(sg.edges)
	if dev != nil {
		sg.edges[edgeKey(md)] = dev.ID()
	}
	return nil
}

func (e *SimEngine) Prepare(_ context.Context, g *Graph) error {
	return e.simple(OpPrepare, g, func(sg *simGraph) { sg.state = StatePrepared })
}

func (e *SimEngine) Start(_ context.Context, g *Graph) error {
	return e.simple(OpStart, g, func(sg *simGraph) { sg.state = StateStarted })
}

func (e *SimEngine) Stop(_ context.Context, g *Graph, md *metadata.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpStop, GraphID: graphID(g), Metadata: md.Clone()})
	if err != nil {
		return err
	}
	if md != nil {
		// scoped stop of the last device edge; the graph itself stays
		delete(sg.edges, edgeKey(md))
	}
	sg.state = StateStopped
	return nil
}

func (e *SimEngine) Pause(_ context.Context, g *Graph) error {
	return e.simple(OpPause, g, func(sg *simGraph) { sg.state = StatePaused })
}

func (e *SimEngine) Resume(_ context.Context, g *Graph) error {
	return e.simple(OpResume, g, func(sg *simGraph) { sg.state = StateStarted })
}

func (e *SimEngine) Flush(_ context.Context, g *Graph) error {
	return e.simple(OpFlush, g, func(sg *simGraph) { sg.data.Reset() })
}

func (e *SimEngine) Suspend(_ context.Context, g *Graph) error {
	return e.simple(OpSuspend, g, nil)
}

func (e *SimEngine) Close(_ context.Context, g *Graph) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.record(Call{Op: OpClose, GraphID: graphID(g)}); err != nil {
		return err
	}
	delete(e.graphs, g.ID)
	return nil
}

// Write appends to the graph's ring buffer. A full buffer is a short write.
func (e *SimEngine) Write(_ context.Context, g *Graph, buf []byte) (int, error) {
	e.mu.Lock()
	sg, err := e.record(Call{Op: OpWrite, GraphID: graphID(g)})
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	n := min(len(buf), sg.data.Free())
	if n > 0 {
		if n, err = sg.data.Write(buf[:n]); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			e.mu.Unlock()
			return n, err
		}
	}
	sg.written += uint64(n)
	sg.processed++
	cb := sg.callback
	sessionID := sg.sessionID
	e.mu.Unlock()

	if cb != nil {
		cb(sessionID, Event{SessionID: sessionID, SourceModuleID: ModuleGSL, EventID: EventWriteDone})
	}
	return n, nil
}

// Read drains the graph's ring buffer. An empty buffer reads zero bytes.
func (e *SimEngine) Read(_ context.Context, g *Graph, buf []byte) (int, error) {
	e.mu.Lock()
	sg, err := e.record(Call{Op: OpRead, GraphID: graphID(g)})
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	n, err := sg.data.Read(buf)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		e.mu.Unlock()
		return n, err
	}
	sg.processed++
	cb := sg.callback
	sessionID := sg.sessionID
	e.mu.Unlock()

	if cb != nil {
		cb(sessionID, Event{SessionID: sessionID, SourceModuleID: ModuleGSL, EventID: EventReadDone})
	}
	return n, nil
}

func (e *SimEngine) EOS(_ context.Context, g *Graph) error {
	e.mu.Lock()
	sg, err := e.record(Call{Op: OpEOS, GraphID: graphID(g)})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	cb := sg.callback
	sessionID := sg.sessionID
	e.mu.Unlock()

	if cb != nil {
		cb(sessionID, Event{SessionID: sessionID, SourceModuleID: ModuleGSL, EventID: EventEOSRendered})
	}
	return nil
}

func (e *SimEngine) SetConfig(_ context.Context, g *Graph, blob []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpSetConfig, GraphID: graphID(g), Blob: slices.Clone(blob)})
	if err != nil {
		return err
	}
	sg.config = slices.Clone(blob)
	return nil
}

// GetConfig answers with the last blob set on the graph, or echoes the query
func (e *SimEngine) GetConfig(_ context.Context, g *Graph, blob []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpGetConfig, GraphID: graphID(g), Blob: slices.Clone(blob)})
	if err != nil {
		return nil, err
	}
	if sg.config != nil {
		return slices.Clone(sg.config), nil
	}
	return slices.Clone(blob), nil
}

func (e *SimEngine) SetConfigWithTag(_ context.Context, g *Graph, gkv []metadata.KV, blob []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.record(Call{
		Op:       OpSetConfigWithTag,
		GraphID:  graphID(g),
		Metadata: &metadata.Metadata{GKV: slices.Clone(gkv)},
		Blob:     slices.Clone(blob),
	})
	return err
}

func (e *SimEngine) SetCal(_ context.Context, g *Graph, md *metadata.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.record(Call{Op: OpSetCal, GraphID: graphID(g), Metadata: md.Clone()})
	return err
}

func (e *SimEngine) SetMediaConfig(_ context.Context, g *Graph, mc MediaConfig, md *metadata.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.record(Call{
		Op:       OpSetMediaConfig,
		GraphID:  graphID(g),
		Metadata: md.Clone(),
		Blob:     fmt.Appendf(nil, "%d/%d/%d/%d", mc.Rate, mc.Channels, mc.BitWidth, mc.Format),
	})
	return err
}

func (e *SimEngine) SetGaplessMetadata(_ context.Context, g *Graph, kind GaplessKind, silence uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.record(Call{Op: OpSetGapless, GraphID: graphID(g), Blob: fmt.Appendf(nil, "%d:%d", kind, silence)})
	return err
}

func (e *SimEngine) RegisterCallback(_ context.Context, g *Graph, fn Callback, sessionID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: OpRegisterCallback, GraphID: graphID(g), SessionID: sessionID})
	if err != nil {
		return err
	}
	sg.callback = fn
	return nil
}

func (e *SimEngine) RegisterForEvents(_ context.Context, g *Graph, reg EventRegistration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.record(Call{Op: OpRegisterForEvents, GraphID: graphID(g), Blob: slices.Clone(reg.Payload)})
	return err
}

// GetTagsWithModuleInfo reports one tag per graph key with the key's value
// as its module id
func (e *SimEngine) GetTagsWithModuleInfo(_ context.Context, md *metadata.Metadata) ([]TagModuleInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.record(Call{Op: OpGetTags, Metadata: md.Clone()}); err != nil {
		return nil, err
	}
	if md == nil {
		return nil, nil
	}
	out := make([]TagModuleInfo, 0, len(md.GKV))
	for _, kv := range md.GKV {
		out = append(out, TagModuleInfo{Tag: kv.Key, ModuleIDs: []uint32{kv.Value}})
	}
	return out, nil
}

func (e *SimEngine) counter(op Op, g *Graph, read func(sg *simGraph) uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sg, err := e.record(Call{Op: op, GraphID: graphID(g)})
	if err != nil {
		return 0, err
	}
	return read(sg), nil
}

// GetSessionTime is the number of bytes accepted by Write so far
func (e *SimEngine) GetSessionTime(_ context.Context, g *Graph) (uint64, error) {
	return e.counter(OpGetSessionTime, g, func(sg *simGraph) uint64 { return sg.written })
}

func (e *SimEngine) GetBufferTimestamp(_ context.Context, g *Graph) (uint64, error) {
	return e.counter(OpGetBufferTimestamp, g, func(sg *simGraph) uint64 { return sg.written })
}

// GetHWProcessedCount is the number of completed Read and Write calls
func (e *SimEngine) GetHWProcessedCount(_ context.Context, g *Graph) (uint64, error) {
	return e.counter(OpGetHWProcessed, g, func(sg *simGraph) uint64 { return sg.processed })
}

var _ Engine = (*SimEngine)(nil)

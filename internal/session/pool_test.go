package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/graph"
)

type fakeRecorder struct {
	mu          sync.Mutex
	operations  map[string]int
	errs        map[string]string
	transitions []string
	callbacks   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{operations: make(map[string]int), errs: make(map[string]string)}
}

func (r *fakeRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[operation+"/"+status]++
}

func (r *fakeRecorder) RecordDuration(string, float64) {}

func (r *fakeRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[operation] = errorType
}

func (r *fakeRecorder) RecordTransition(entity, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, entity+":"+from+"->"+to)
}

func (r *fakeRecorder) RecordCallback(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks++
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.StateEvent
}

func (p *fakePublisher) TryPublish(ev events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if se, ok := ev.(*events.StateEvent); ok {
		p.events = append(p.events, se)
	}
	return true
}

func (p *fakePublisher) byEntity(entity string) []*events.StateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.StateEvent
	for _, ev := range p.events {
		if ev.Entity == entity {
			out = append(out, ev)
		}
	}
	return out
}

func TestNewPoolValidation(t *testing.T) {
	t.Parallel()
	_, err := NewPool(Config{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNewPoolRejectsNegativeQueue(t *testing.T) {
	t.Parallel()
	reg, err := device.NewRegistry(device.NewSimBackend())
	require.NoError(t, err)
	_, err = NewPool(Config{Registry: reg, Engine: graph.NewSimEngine(64), EventQueueSize: -1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPoolGetOrCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a, err := f.pool.GetOrCreate(3)
	require.NoError(t, err)
	b, err := f.pool.GetOrCreate(3)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, StateClosed, a.State())

	_, err = f.pool.Get(4)
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, errors.IsNotFound(err))

	_, err = f.pool.GetOrCreate(1)
	require.NoError(t, err)
	list := f.pool.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint32(3), list[0].ID())
	assert.Equal(t, uint32(1), list[1].ID())
	assert.Same(t, f.registry, f.pool.Registry())
}

func TestPoolCloseClosesOpenSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s1 := f.session(t, 1, Playback, devSpeaker)
	s2 := f.session(t, 2, Capture, devMic)
	idle := f.session(t, 3, Playback)
	require.NoError(t, s1.Open(ctx, ModeDefault))
	require.NoError(t, s1.Start(ctx))
	require.NoError(t, s2.Open(ctx, ModeDefault))

	require.NoError(t, f.pool.Close(ctx))
	assert.Equal(t, StateClosed, s1.State())
	assert.Equal(t, StateClosed, s2.State())
	assert.Equal(t, StateClosed, idle.State())
	assert.Zero(t, f.engine.OpenGraphs())
	assert.Equal(t, 0, f.device(t, devSpeaker).Users())

	_, err := f.pool.GetOrCreate(9)
	require.ErrorIs(t, err, ErrPoolClosed)
	// closing twice is harmless
	require.NoError(t, f.pool.Close(ctx))
}

func TestPoolCloseJoinsFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback, devSpeaker)
	require.NoError(t, s.Open(ctx, ModeDefault))
	boom := errors.NewStd("close failed")
	f.engine.Fail(graph.OpClose, graph.AnyDevice, boom)

	err := f.pool.Close(ctx)
	require.ErrorIs(t, err, boom)
	// the session is torn down regardless
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, f.device(t, devSpeaker).Users())
}

func TestEventForRemovedSessionIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// nothing registered under 77; must not panic
	f.pool.handleEngineEvent(77, graph.Event{SourceModuleID: graph.ModuleGSL, EventID: graph.EventWriteDone})
}

func TestPoolRecordsMetricsAndEvents(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	pub := &fakePublisher{}
	f := newFixture(t, func(cfg *Config) {
		cfg.Metrics = rec
		cfg.Events = pub
	})
	ctx := f.ctx
	s := f.session(t, 1, Playback, devSpeaker)

	require.NoError(t, s.Open(ctx, ModeDefault))
	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx))
	require.NoError(t, s.Close(ctx))

	sessionEvents := pub.byEntity(events.EntitySession)
	require.Len(t, sessionEvents, 3)
	assert.Equal(t, "closed", sessionEvents[0].From)
	assert.Equal(t, "opened", sessionEvents[0].To)
	assert.Equal(t, "started", sessionEvents[1].To)
	assert.Equal(t, "closed", sessionEvents[2].To)
	assert.Equal(t, uint32(1), sessionEvents[0].SessionID)

	deviceEvents := pub.byEntity(events.EntityDevice)
	require.NotEmpty(t, deviceEvents)
	assert.Equal(t, devSpeaker, deviceEvents[0].EntityID)
	assert.Equal(t, device.ComponentDevice, deviceEvents[0].Component)
	assert.NotEmpty(t, pub.byEntity(events.EntityAIF))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.operations["open/success"])
	assert.Equal(t, 1, rec.operations["start/success"])
	assert.Equal(t, 1, rec.operations["start/error"])
	assert.Equal(t, string(errors.CategoryConflict), rec.errs["start"])
	assert.Contains(t, rec.transitions, "session:closed->opened")
	assert.Contains(t, rec.transitions, "device:opened->prepared")
}

func TestQueuedDeliveryRecordsCallbacks(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	f := newFixture(t, func(cfg *Config) {
		cfg.Metrics = rec
		cfg.EventQueueSize = 4
	})
	ctx := f.ctx
	s := f.session(t, 1, Playback)
	require.NoError(t, s.Open(ctx, ModeNonTunnel))
	sink := &eventSink{}
	_, err := s.RegisterCallback(DataPath, sink.handle, nil)
	require.NoError(t, err)

	_, err = s.Write(ctx, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.EOS(ctx))

	// Close drains the queue before returning
	require.NoError(t, f.pool.Close(ctx))
	assert.Equal(t, []uint32{graph.EventWriteDone, graph.EventEOSRendered}, sink.ids())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.callbacks)
}

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/graph"
)

// eventSink collects delivered events
type eventSink struct {
	mu     sync.Mutex
	events []graph.Event
	data   []any
}

func (s *eventSink) handle(_ uint32, ev graph.Event, clientData any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.data = append(s.data, clientData)
}

func (s *eventSink) ids() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventID)
	}
	return out
}

// waitFor waits until n events have been delivered
func (s *eventSink) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.ids()) >= n }, time.Second, 5*time.Millisecond)
}

func TestDataPathRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback)

	_, err := s.Write(ctx, []byte("abc"))
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Open(ctx, ModeNonTunnel))
	require.NoError(t, s.Start(ctx))

	n, err := s.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = s.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	ts, err := s.GetTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ts)
	ts, err = s.GetBufferTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ts)
	count, err := s.GetHWProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	require.NoError(t, s.Stop(ctx))
	_, err = s.GetBufferTimestamp(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPauseResumeSuspend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback, devSpeaker)
	require.NoError(t, s.Open(ctx, ModeDefault))

	require.ErrorIs(t, s.Pause(ctx), ErrInvalidState)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Pause(ctx))
	assert.Equal(t, graph.StatePaused, f.graphState(t, s))
	require.NoError(t, s.Resume(ctx))
	assert.Equal(t, graph.StateStarted, f.graphState(t, s))
	require.NoError(t, s.Suspend(ctx))
	assert.Len(t, f.engine.CallsOf(graph.OpSuspend), 1)
	require.NoError(t, s.SetGaplessMetadata(ctx, graph.GaplessTrailingSilence, 480))
	gapless := f.engine.CallsOf(graph.OpSetGapless)
	require.Len(t, gapless, 1)
	assert.Equal(t, "1:480", string(gapless[0].Blob))
}

func TestSetConfigPushesMediaForRunningPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback, devSpeaker)
	cfg := StreamConfig{
		Direction: Playback,
		Media:     graph.MediaConfig{Rate: 48000, Channels: 2, BitWidth: 16},
	}

	require.NoError(t, s.Open(ctx, ModeDefault))
	require.NoError(t, s.SetConfig(ctx, cfg))
	assert.Empty(t, f.engine.CallsOf(graph.OpSetMediaConfig))

	require.NoError(t, s.Start(ctx))
	cfg.Media.Rate = 44100
	require.NoError(t, s.SetConfig(ctx, cfg))
	calls := f.engine.CallsOf(graph.OpSetMediaConfig)
	require.Len(t, calls, 1)
	assert.Equal(t, "44100/2/16/0", string(calls[0].Blob))
	assert.Equal(t, uint32(44100), s.Config().Media.Rate)

	// capture streams only store the config
	c := f.session(t, 2, Capture, devMic)
	require.NoError(t, c.Open(ctx, ModeDefault))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SetConfig(ctx, StreamConfig{Direction: Capture}))
	assert.Len(t, f.engine.CallsOf(graph.OpSetMediaConfig), 1)
}

func TestDirectionFixedWhileOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback, devSpeaker)
	require.NoError(t, s.Open(ctx, ModeDefault))
	require.NoError(t, s.Start(ctx))

	err := s.SetConfig(ctx, StreamConfig{Direction: Capture})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Playback, s.Direction())

	// a new format for the same direction is accepted
	require.NoError(t, s.SetConfig(ctx, StreamConfig{
		Direction: Playback,
		Media:     graph.MediaConfig{Rate: 16000, Channels: 1, BitWidth: 16},
	}))

	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.SetConfig(ctx, StreamConfig{Direction: Capture}), ErrInvalidState)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.SetConfig(ctx, StreamConfig{Direction: Capture}))
	assert.Equal(t, Capture, s.Direction())
	assert.Equal(t, "capture", s.Info().Direction)
}

func TestCallbacksFilteredByKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback)
	require.NoError(t, s.Open(ctx, ModeNonTunnel))

	data := &eventSink{}
	module := &eventSink{}
	_, err := s.RegisterCallback(DataPath, data.handle, "client-a")
	require.NoError(t, err)
	_, err = s.RegisterCallback(Module, module.handle, "client-a")
	require.NoError(t, err)

	_, err = s.Write(ctx, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.EOS(ctx))
	assert.True(t, f.engine.Emit(1, graph.Event{SourceModuleID: 0x7001, EventID: 0x42}))
	data.waitFor(t, 2)
	module.waitFor(t, 1)

	assert.Equal(t, []uint32{graph.EventWriteDone, graph.EventEOSRendered}, data.ids())
	assert.Equal(t, []uint32{0x42}, module.ids())
	data.mu.Lock()
	defer data.mu.Unlock()
	assert.Equal(t, []any{"client-a", "client-a"}, data.data)
}

func TestFlushDeliversEarlyEOSToEveryone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback)
	require.NoError(t, s.Open(ctx, ModeNonTunnel))

	data := &eventSink{}
	module := &eventSink{}
	_, err := s.RegisterCallback(DataPath, data.handle, nil)
	require.NoError(t, err)
	_, err = s.RegisterCallback(Module, module.handle, nil)
	require.NoError(t, err)

	require.NoError(t, s.Flush(ctx))
	data.waitFor(t, 1)
	module.waitFor(t, 1)
	assert.Equal(t, []uint32{graph.EventEarlyEOS}, data.ids())
	assert.Equal(t, []uint32{graph.EventEarlyEOS}, module.ids())
	assert.Len(t, f.engine.CallsOf(graph.OpFlush), 1)
}

func TestUnregisterCallbacks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(t, 1, Playback)

	sink := &eventSink{}
	id, err := s.RegisterCallback(DataPath, sink.handle, 1)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	_, err = s.RegisterCallback(DataPath, sink.handle, 2)
	require.NoError(t, err)
	_, err = s.RegisterCallback(Module, sink.handle, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.CallbackCount())

	assert.True(t, s.Unregister(id))
	assert.False(t, s.Unregister(id))
	assert.Equal(t, 2, s.CallbackCount())

	// nil fn drops the matching kind and client data only
	_, err = s.RegisterCallback(DataPath, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CallbackCount())

	_, err = s.RegisterCallback(Module, sink.handle, []byte{1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegisterForEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(t, 1, Playback)
	reg := graph.EventRegistration{ModuleInstanceID: 0x7001, EventID: 0x42, Register: true, Payload: []byte{1}}

	require.ErrorIs(t, s.RegisterForEvents(f.ctx, reg), ErrInvalidState)
	require.NoError(t, s.Open(f.ctx, ModeNonTunnel))
	require.NoError(t, s.RegisterForEvents(f.ctx, reg))
	assert.Len(t, f.engine.CallsOf(graph.OpRegisterForEvents), 1)
}

func TestCallbackMayReenterSession(t *testing.T) {
	t.Parallel()
	// default queue size; the engine raises WRITE_DONE under the session lock
	f := newFixture(t)
	ctx := f.ctx
	s := f.session(t, 1, Playback)
	require.NoError(t, s.Open(ctx, ModeNonTunnel))

	var (
		mu    sync.Mutex
		infos []Info
	)
	_, err := s.RegisterCallback(DataPath, func(_ uint32, _ graph.Event, _ any) {
		// takes the session lock
		info := s.Info()
		mu.Lock()
		defer mu.Unlock()
		infos = append(infos, info)
	}, nil)
	require.NoError(t, err)

	_, err = s.Write(ctx, []byte{1, 2})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(infos) == 1 && infos[0].State == "opened"
	}, time.Second, 5*time.Millisecond)
}

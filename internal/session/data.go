package session

import (
	"context"
	"fmt"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/graph"
)

// SetConfig stores the stream configuration. A running or stopped playback
// session also pushes the new media format to its graph. The direction can
// only change while the session is closed.
func (s *Session) SetConfig(ctx context.Context, cfg StreamConfig) (err error) {
	defer s.observe("set_config")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Direction != s.config.Direction && s.state != StateClosed {
		return errors.New(fmt.Errorf("session %d: set_config: direction change from %s to %s in state %s: %w",
			s.id, s.config.Direction, cfg.Direction, s.state, ErrInvalidState)).
			Component(ComponentSession).
			Category(errors.CategoryState).
			Context("operation", "set_config").
			Context("session_id", s.id).
			Context("state", s.state.String()).
			Build()
	}

	s.config = cfg
	s.dir.Store(int32(cfg.Direction))
	if cfg.Direction != Playback {
		return nil
	}
	if (s.state != StateStarted && s.state != StateStopped) || s.g == nil {
		return nil
	}
	if err := s.pool.engine.SetMediaConfig(ctx, s.g, cfg.Media, s.mergedMetadata()); err != nil {
		return s.graphError(err, "set_media_config")
	}
	return nil
}

// Config returns the stored stream configuration
func (s *Session) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// graphCall runs fn against the live graph when the session is open
func (s *Session) graphCall(operation string, fn func(g *graph.Graph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.invalidState(operation)
	}
	if err := fn(s.g); err != nil {
		return s.graphError(err, operation)
	}
	return nil
}

// Pause pauses a started graph
func (s *Session) Pause(ctx context.Context) (err error) {
	defer s.observe("pause")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return s.invalidState("pause")
	}
	if err := s.pool.engine.Pause(ctx, s.g); err != nil {
		return s.graphError(err, "pause")
	}
	return nil
}

// Resume continues a paused graph
func (s *Session) Resume(ctx context.Context) (err error) {
	defer s.observe("resume")(&err)
	return s.graphCall("resume", func(g *graph.Graph) error {
		return s.pool.engine.Resume(ctx, g)
	})
}

// Suspend asks the graph to release its hardware resources
func (s *Session) Suspend(ctx context.Context) (err error) {
	defer s.observe("suspend")(&err)
	return s.graphCall("suspend", func(g *graph.Graph) error {
		return s.pool.engine.Suspend(ctx, g)
	})
}

// EOS marks the end of the client's playback data
func (s *Session) EOS(ctx context.Context) (err error) {
	defer s.observe("eos")(&err)
	return s.graphCall("eos", func(g *graph.Graph) error {
		return s.pool.engine.EOS(ctx, g)
	})
}

// Flush discards buffered data. Every subscriber is then told with an
// EARLY_EOS event, queued behind the events the engine already raised.
func (s *Session) Flush(ctx context.Context) (err error) {
	defer s.observe("flush")(&err)
	err = s.graphCall("flush", func(g *graph.Graph) error {
		return s.pool.engine.Flush(ctx, g)
	})
	if err != nil {
		return err
	}
	s.pool.enqueue(s, graph.Event{
		SessionID:      s.id,
		SourceModuleID: graph.ModuleGSL,
		EventID:        graph.EventEarlyEOS,
	})
	return nil
}

// Write hands playback data to the graph and returns how much it accepted
func (s *Session) Write(ctx context.Context, buf []byte) (int, error) {
	var n int
	err := s.graphCall("write", func(g *graph.Graph) error {
		var err error
		n, err = s.pool.engine.Write(ctx, g, buf)
		return err
	})
	return n, err
}

// Read copies captured data into buf
func (s *Session) Read(ctx context.Context, buf []byte) (int, error) {
	var n int
	err := s.graphCall("read", func(g *graph.Graph) error {
		var err error
		n, err = s.pool.engine.Read(ctx, g, buf)
		return err
	})
	return n, err
}

// SetGaplessMetadata sets the initial or trailing silence of a gapless
// transition
func (s *Session) SetGaplessMetadata(ctx context.Context, kind graph.GaplessKind, silence uint32) (err error) {
	defer s.observe("set_gapless_metadata")(&err)
	return s.graphCall("set_gapless_metadata", func(g *graph.Graph) error {
		return s.pool.engine.SetGaplessMetadata(ctx, g, kind, silence)
	})
}

// GetTimestamp returns the session time reported by the graph
func (s *Session) GetTimestamp(ctx context.Context) (uint64, error) {
	var ts uint64
	err := s.graphCall("get_session_time", func(g *graph.Graph) error {
		var err error
		ts, err = s.pool.engine.GetSessionTime(ctx, g)
		return err
	})
	return ts, err
}

// GetBufferTimestamp returns the timestamp of the last buffer. The session
// must be started.
func (s *Session) GetBufferTimestamp(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return 0, s.invalidState("get_buffer_timestamp")
	}
	ts, err := s.pool.engine.GetBufferTimestamp(ctx, s.g)
	if err != nil {
		return 0, s.graphError(err, "get_buffer_timestamp")
	}
	return ts, nil
}

// GetHWProcessedCount returns how many buffers the hardware has consumed
func (s *Session) GetHWProcessedCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.graphCall("get_hw_processed_count", func(g *graph.Graph) error {
		var err error
		n, err = s.pool.engine.GetHWProcessedCount(ctx, g)
		return err
	})
	return n, err
}

// RegisterForEvents subscribes the graph to a module event. Delivery goes
// to module-kind callbacks.
func (s *Session) RegisterForEvents(ctx context.Context, reg graph.EventRegistration) (err error) {
	defer s.observe("register_for_events")(&err)
	return s.graphCall("register_for_events", func(g *graph.Graph) error {
		return s.pool.engine.RegisterForEvents(ctx, g, reg)
	})
}

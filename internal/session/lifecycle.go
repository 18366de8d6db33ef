package session

import (
	"context"
	"fmt"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/logger"
)

// Open builds the session graph. Device-attached sessions connect every
// interface requested with ConnectAIF and then re-establish any requested
// EC reference and loopback; a failure anywhere leaves the session closed
// with no interface connected and no graph.
func (s *Session) Open(ctx context.Context, mode Mode) (err error) {
	defer s.observe("open")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return s.alreadyApplied("open")
	}
	s.mode = mode

	if !mode.hasDevices() {
		if err := s.openWithoutDevice(ctx); err != nil {
			return err
		}
	} else {
		if err := s.openWithFirstDevice(ctx); err != nil {
			return err
		}
		if err := s.connectRemaining(ctx); err != nil {
			return err
		}
		if s.ecRef.enabled {
			if err := s.applyECRef(ctx, s.ecRef.target, true); err != nil {
				s.ecRef = crossLink{}
				s.unwindOpen(ctx)
				return err
			}
		}
	}

	if s.loopback.enabled {
		if err := s.applyLoopback(ctx, s.loopback.target); err != nil {
			s.loopback = crossLink{}
			s.unwindOpen(ctx)
			return err
		}
	}

	s.setState("open", StateOpened)
	return nil
}

func (s *Session) openWithoutDevice(ctx context.Context) error {
	eng := s.pool.engine
	g, err := eng.Open(ctx, s.md.Clone(), s.id, nil)
	if err != nil {
		return s.graphError(err, "open")
	}
	s.g = g

	if err := eng.RegisterCallback(ctx, g, s.pool.handleEngineEvent, s.id); err != nil {
		s.rollbackWarn(ctx, "graph_close", eng.Close(ctx, g))
		s.g = nil
		return s.graphError(err, "register_callback")
	}

	if s.params != nil {
		blob := s.params
		s.params = nil
		if err := eng.SetConfig(ctx, g, blob); err != nil {
			s.rollbackWarn(ctx, "graph_close", eng.Close(ctx, g))
			s.g = nil
			return s.graphError(err, "set_config")
		}
	}
	return nil
}

func (s *Session) openWithFirstDevice(ctx context.Context) error {
	for _, aif := range s.aifs {
		if aif.state != AIFOpen {
			continue
		}
		if err := s.connectAIF(ctx, aif, 0); err != nil {
			return err
		}
		aif.setState("open", AIFOpened)
		return nil
	}
	return errors.New(fmt.Errorf("session %d: open: no audio interface connected: %w", s.id, ErrInvalidState)).
		Component(ComponentSession).
		Category(errors.CategoryState).
		Context("operation", "open").
		Context("session_id", s.id).
		Build()
}

func (s *Session) connectRemaining(ctx context.Context) error {
	openedCount := 1
	for _, aif := range s.aifs {
		if aif.state != AIFOpen {
			continue
		}
		if err := s.connectAIF(ctx, aif, openedCount); err != nil {
			s.unwindOpen(ctx)
			return err
		}
		aif.setState("open", AIFOpened)
		openedCount++
	}
	return nil
}

// unwindOpen disconnects everything a failed Open connected, reverts those
// interfaces to requested and drops the graph
func (s *Session) unwindOpen(ctx context.Context) {
	connected := s.countAtLeast(AIFOpened)
	for _, aif := range s.aifs {
		if aif.state != AIFOpened {
			continue
		}
		s.rollbackWarn(ctx, "disconnect", s.disconnectAIF(ctx, aif, connected, false))
		aif.setState("open", AIFOpen)
		connected--
	}
	if s.g != nil {
		s.rollbackWarn(ctx, "graph_close", s.pool.engine.Close(ctx, s.g))
		s.g = nil
	}
}

// Prepare flushes cached device config for every interface and prepares the
// graph unless the session is already running
func (s *Session) Prepare(ctx context.Context) (err error) {
	defer s.observe("prepare")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.invalidState("prepare")
	}
	return s.prepare(ctx)
}

func (s *Session) prepare(ctx context.Context) error {
	eng := s.pool.engine

	if s.mode.hasDevices() {
		if s.countAtLeast(AIFOpened) == 0 {
			return s.invalidState("prepare")
		}
		g := s.g
		for _, aif := range s.aifs {
			if err := aif.dev.ApplyCachedConfig(ctx, func(ctx context.Context, blob []byte) error {
				return eng.SetConfig(ctx, g, blob)
			}); err != nil {
				return s.graphError(err, "set_config")
			}
		}
		if s.state == StateStarted {
			return nil
		}
		s.pool.hwep.Lock()
		err := eng.Prepare(ctx, s.g)
		s.pool.hwep.Unlock()
		if err != nil {
			return s.graphError(err, "prepare")
		}
		s.setState("prepare", StatePrepared)
		return nil
	}

	if s.state == StateStarted {
		return nil
	}
	if err := eng.Prepare(ctx, s.g); err != nil {
		return s.graphError(err, "prepare")
	}
	s.setState("prepare", StatePrepared)
	return nil
}

// Start runs the graph and its devices. Slave-class devices are prepared
// and started before the graph, every other device after it. A capture
// session with loopback needs its playback partner running, and one with
// an EC reference needs the referenced device running.
func (s *Session) Start(ctx context.Context) (err error) {
	defer s.observe("start")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return s.invalidState("start")
	case StateStarted:
		return s.alreadyApplied("start")
	}
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	eng := s.pool.engine

	if !s.mode.hasDevices() {
		if err := eng.Start(ctx, s.g); err != nil {
			return s.graphError(err, "start")
		}
		s.setState("start", StateStarted)
		return nil
	}

	if s.countAtLeast(AIFOpened) == 0 {
		return s.invalidState("start")
	}
	if s.config.Direction == Capture {
		if err := s.checkRoutingPartners(); err != nil {
			return err
		}
	}

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	// slave ports are configured before the master side starts
	for _, aif := range s.aifs {
		if aif.dev.Class() != device.ClassSlave {
			continue
		}
		if err := s.startAIF(ctx, aif); err != nil {
			s.stopStartedAIFs(ctx)
			return err
		}
	}

	if err := eng.Start(ctx, s.g); err != nil {
		s.stopStartedAIFs(ctx)
		return s.graphError(err, "start")
	}

	for _, aif := range s.aifs {
		if aif.dev.Class() == device.ClassSlave {
			continue
		}
		if err := s.startAIF(ctx, aif); err != nil {
			s.rollbackWarn(ctx, "graph_stop", eng.Stop(ctx, s.g, nil))
			s.stopStartedAIFs(ctx)
			return err
		}
	}

	s.setState("start", StateStarted)
	return nil
}

// checkRoutingPartners verifies that loopback and EC reference sources are
// running. Caller holds the session lock.
func (s *Session) checkRoutingPartners() error {
	if s.loopback.enabled {
		partner, err := s.pool.Get(s.loopback.target)
		if err != nil {
			return err
		}
		if st := partner.State(); st != StateStarted {
			return errors.New(fmt.Errorf("session %d: start: loopback partner %d is %s: %w", s.id, partner.ID(), st, ErrInvalidState)).
				Component(ComponentSession).
				Category(errors.CategoryState).
				Context("operation", "start").
				Context("session_id", s.id).
				Context("partner_id", partner.ID()).
				Build()
		}
	}
	if s.ecRef.enabled {
		dev, err := s.pool.registry.Get(s.ecRef.target)
		if err != nil {
			return err
		}
		if st := dev.State(); st != device.StateStarted {
			return errors.New(fmt.Errorf("session %d: start: ec reference device %d is %s: %w", s.id, dev.ID(), st, ErrInvalidState)).
				Component(ComponentSession).
				Category(errors.CategoryState).
				Context("operation", "start").
				Context("session_id", s.id).
				Context("device_id", dev.ID()).
				Build()
		}
	}
	return nil
}

// startAIF prepares and starts the device of a connected interface.
// Caller holds the session lock and the hardware-endpoint lock.
func (s *Session) startAIF(ctx context.Context, aif *AudioInterface) error {
	if aif.state == AIFOpened || aif.state == AIFStopped {
		if err := aif.dev.Prepare(ctx); err != nil {
			return s.deviceError(err, aif, "prepare")
		}
		aif.setState("start", AIFPrepared)
	}
	if aif.state == AIFOpened || aif.state == AIFPrepared || aif.state == AIFStopped {
		if err := aif.dev.Start(ctx); err != nil {
			return s.deviceError(err, aif, "start")
		}
		aif.setState("start", AIFStarted)
	}
	return nil
}

// stopStartedAIFs unwinds a failed start. Interfaces go back to opened so
// the client can retry through Prepare.
func (s *Session) stopStartedAIFs(ctx context.Context) {
	for _, aif := range s.aifs {
		if aif.state != AIFStarted {
			continue
		}
		s.rollbackWarn(ctx, "device_stop", aif.dev.Stop(ctx))
		aif.setState("start", AIFOpened)
	}
}

// Stop halts a running session. A capture graph is stopped before its
// devices so the pipeline drains; playback devices are silenced first.
func (s *Session) Stop(ctx context.Context) (err error) {
	defer s.observe("stop")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return s.invalidState("stop")
	}
	return s.stop(ctx)
}

func (s *Session) stop(ctx context.Context) error {
	eng := s.pool.engine

	if !s.mode.hasDevices() {
		err := eng.Stop(ctx, s.g, nil)
		s.setState("stop", StateStopped)
		if err != nil {
			return s.graphError(err, "stop")
		}
		return nil
	}

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	// a failed reconnect may have dropped the graph
	if s.config.Direction == Capture && s.g != nil {
		if err := eng.Stop(ctx, s.g, nil); err != nil {
			return s.graphError(err, "stop")
		}
	}

	var first error
	for _, aif := range s.aifs {
		if aif.state != AIFStarted {
			continue
		}
		if err := aif.dev.Stop(ctx); err != nil {
			s.log.WithContext(ctx).Warn("device stop failed",
				logger.AIFID(aif.id),
				logger.Error(err))
			if first == nil {
				first = s.deviceError(err, aif, "stop")
			}
		}
		aif.setState("stop", AIFStopped)
	}

	if s.config.Direction == Playback && s.g != nil {
		if err := eng.Stop(ctx, s.g, nil); err != nil && first == nil {
			first = s.graphError(err, "stop")
		}
	}

	s.setState("stop", StateStopped)
	return first
}

// Close tears the session down from any open state: the graph is stopped
// and closed, routing requests are cleared and every connected device is
// released. Interfaces stay requested so a later Open reconnects them.
func (s *Session) Close(ctx context.Context) (err error) {
	defer s.observe("close")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.invalidState("close")
	}
	return s.close(ctx)
}

func (s *Session) close(ctx context.Context) error {
	eng := s.pool.engine

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.g != nil {
		if s.state == StateStarted {
			if err := eng.Stop(ctx, s.g, nil); err != nil {
				s.rollbackWarn(ctx, "graph_stop", err)
				keep(s.graphError(err, "stop"))
			}
		}
		if err := eng.Close(ctx, s.g); err != nil {
			s.rollbackWarn(ctx, "graph_close", err)
			keep(s.graphError(err, "close"))
		}
		s.g = nil
	}
	s.loopback = crossLink{}
	s.ecRef = crossLink{}

	if s.mode.hasDevices() {
		for _, aif := range s.aifs {
			if aif.state.AtLeast(AIFOpened) {
				if aif.state == AIFStarted {
					if err := aif.dev.Stop(ctx); err != nil {
						s.rollbackWarn(ctx, "device_stop", err)
						keep(s.deviceError(err, aif, "stop"))
					}
				}
				if err := aif.dev.Close(ctx); err != nil {
					s.rollbackWarn(ctx, "device_close", err)
					keep(s.deviceError(err, aif, "close"))
				}
				aif.setState("close", AIFOpen)
			}
			aif.tagParams = nil
		}
	}

	s.setState("close", StateClosed)
	return first
}

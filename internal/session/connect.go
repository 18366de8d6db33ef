package session

import (
	"context"
	"slices"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/metadata"
)

// connectAIF attaches one interface to the session graph. openedCount is the
// number of interfaces already connected: with none the graph is opened (or
// re-pointed at this device if the session kept its graph), otherwise the
// device is added as a new edge. Pending session, interface, device and tag
// blobs are flushed on the way. On failure everything this call did is
// undone and the device is closed again.
//
// Caller holds the session lock.
func (s *Session) connectAIF(ctx context.Context, aif *AudioInterface, openedCount int) error {
	eng := s.pool.engine
	merged := aif.merged()
	entryState := s.state

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	if err := aif.dev.Open(ctx); err != nil {
		return s.deviceError(err, aif, "open")
	}

	switch {
	case openedCount == 0 && s.g == nil:
		g, err := eng.Open(ctx, merged, s.id, aif.dev)
		if err != nil {
			s.closeDeviceAfterFailure(ctx, aif)
			return s.graphError(err, "open")
		}
		s.g = g
		if err := eng.RegisterCallback(ctx, g, s.pool.handleEngineEvent, s.id); err != nil {
			return s.undoConnect(ctx, aif, merged, openedCount, s.graphError(err, "register_callback"))
		}
	case openedCount == 0:
		if err := eng.Change(ctx, s.g, merged, aif.dev); err != nil {
			s.closeDeviceAfterFailure(ctx, aif)
			return s.graphError(err, "change")
		}
	default:
		if err := eng.Add(ctx, s.g, merged, aif.dev); err != nil {
			s.closeDeviceAfterFailure(ctx, aif)
			return s.graphError(err, "add")
		}
	}

	// session blob cached while closed goes out with the first connect
	if entryState == StateClosed && s.params != nil {
		blob := s.params
		s.params = nil
		if err := eng.SetConfig(ctx, s.g, blob); err != nil {
			return s.undoConnect(ctx, aif, merged, openedCount, s.graphError(err, "set_config"))
		}
	}

	if aif.params != nil {
		blob := aif.params
		aif.params = nil
		if err := eng.SetConfig(ctx, s.g, blob); err != nil {
			return s.undoConnect(ctx, aif, merged, openedCount, s.graphError(err, "set_config"))
		}
	}

	g := s.g
	if err := aif.dev.ApplyCachedConfig(ctx, func(ctx context.Context, blob []byte) error {
		return eng.SetConfig(ctx, g, blob)
	}); err != nil {
		return s.undoConnect(ctx, aif, merged, openedCount, s.graphError(err, "set_config"))
	}

	if aif.tagParams != nil {
		blob := aif.tagParams
		aif.tagParams = nil
		if err := eng.SetConfigWithTag(ctx, s.g, merged.GKV, blob); err != nil {
			return s.undoConnect(ctx, aif, merged, openedCount, s.graphError(err, "set_config_with_tag"))
		}
	}

	s.log.Debug("interface connected",
		logger.AIFID(aif.id),
		logger.Int("opened_count", openedCount))
	return nil
}

// undoConnect reverts the graph side of a failed connect and closes the
// device. A first connect leaves no graph behind, whether it opened one or
// re-pointed the graph the session kept. It returns cause unchanged.
func (s *Session) undoConnect(ctx context.Context, aif *AudioInterface, merged *metadata.Metadata, openedCount int, cause error) error {
	eng := s.pool.engine
	if openedCount == 0 {
		s.rollbackWarn(ctx, "graph_close", eng.Close(ctx, s.g))
		s.g = nil
	} else {
		s.rollbackWarn(ctx, "graph_remove", eng.Remove(ctx, s.g, merged))
	}
	s.closeDeviceAfterFailure(ctx, aif)
	return cause
}

func (s *Session) closeDeviceAfterFailure(ctx context.Context, aif *AudioInterface) {
	aif.params = nil
	s.rollbackWarn(ctx, "device_close", aif.dev.Close(ctx))
}

// disconnectAIF detaches one interface. openedCount is the number of
// interfaces connected before this call. When it is the last edge of the
// graph (single stream, single device) the sub-graph is stopped instead of
// removed so the graph stays usable for a later connect. stopDevice tells
// whether this interface had started its device.
//
// Every step runs even if an earlier one fails; the first failure is
// returned. Caller holds the session lock.
func (s *Session) disconnectAIF(ctx context.Context, aif *AudioInterface, openedCount int, stopDevice bool) error {
	eng := s.pool.engine
	merged := aif.merged()

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	var first error
	keep := func(err error, step string) {
		if err == nil {
			return
		}
		s.log.WithContext(ctx).Warn("disconnect step failed",
			logger.AIFID(aif.id),
			logger.String("step", step),
			logger.Error(err))
		if first == nil {
			first = err
		}
	}

	if s.g != nil {
		if openedCount == 1 {
			scoped := &metadata.Metadata{
				GKV:   slices.Clone(merged.GKV),
				CKV:   slices.Clone(merged.CKV),
				Props: metadata.Merge(aif.md, aif.dev.Metadata()).Props,
			}
			if err := eng.Stop(ctx, s.g, scoped); err != nil {
				keep(s.graphError(err, "stop"), "graph_stop")
			}
		} else if err := eng.Remove(ctx, s.g, merged); err != nil {
			keep(s.graphError(err, "remove"), "graph_remove")
		}
	}

	if stopDevice {
		if err := aif.dev.Stop(ctx); err != nil {
			keep(s.deviceError(err, aif, "stop"), "device_stop")
		}
	}
	if err := aif.dev.Close(ctx); err != nil {
		keep(s.deviceError(err, aif, "close"), "device_close")
	}

	s.log.Debug("interface disconnected",
		logger.AIFID(aif.id),
		logger.Int("opened_count", openedCount),
		logger.Bool("sssd", openedCount == 1))
	return first
}

// ConnectAIF attaches (attach=true) or detaches an interface. Before open
// an attach only records the request; on an open session the interface is
// connected and brought to the session's state. A failed attach undoes only
// this interface and leaves its siblings alone.
func (s *Session) ConnectAIF(ctx context.Context, aifID uint32, attach bool) (err error) {
	defer s.observe("connect_aif")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	aif, err := s.getOrCreateAIF(aifID)
	if err != nil {
		return err
	}

	if (attach && aif.state.AtLeast(AIFOpened)) || (!attach && !aif.state.AtLeast(AIFOpen)) {
		return s.alreadyApplied("connect_aif")
	}

	openedCount := s.countAtLeast(AIFOpened)
	if !attach {
		return s.detach(ctx, aif, openedCount)
	}

	if s.state == StateClosed {
		aif.setState("connect", AIFOpen)
		return nil
	}

	if err := s.connectAIF(ctx, aif, openedCount); err != nil {
		return err
	}
	aif.setState("connect", AIFOpened)
	openedCount++

	switch s.state {
	case StatePrepared, StateStopped:
		if err = s.prepare(ctx); err != nil {
			s.unwindAttach(ctx, aif, openedCount)
			return err
		}
	case StateStarted:
		if err = s.prepare(ctx); err == nil {
			err = s.startAttached(ctx, aif, openedCount == 1)
		}
		if err != nil {
			s.unwindAttach(ctx, aif, openedCount)
			return err
		}
	}
	return nil
}

func (s *Session) detach(ctx context.Context, aif *AudioInterface, openedCount int) error {
	stopDevice := s.state == StateStarted && aif.state == AIFStarted
	connected := aif.state.AtLeast(AIFOpened)
	aif.setState("disconnect", AIFClose)

	var err error
	if s.state != StateClosed && connected {
		// disconnect always completes every step, so the interface is gone
		// even when one of them failed
		err = s.disconnectAIF(ctx, aif, openedCount, stopDevice)
	}
	aif.setState("disconnect", AIFClosed)
	return err
}

// unwindAttach backs out an attach whose prepare or start failed
func (s *Session) unwindAttach(ctx context.Context, aif *AudioInterface, openedCount int) {
	stopDevice := aif.state == AIFStarted
	aif.setState("connect", AIFClose)
	s.rollbackWarn(ctx, "disconnect", s.disconnectAIF(ctx, aif, openedCount, stopDevice))
	aif.setState("connect", AIFOpen)
}

// startAttached brings an interface connected to a running session up
// without touching its siblings. When it is the only interface, the last
// disconnect stopped the graph and it is started again.
func (s *Session) startAttached(ctx context.Context, aif *AudioInterface, restartGraph bool) error {
	eng := s.pool.engine

	s.pool.hwep.Lock()
	defer s.pool.hwep.Unlock()

	slave := aif.dev.Class() == device.ClassSlave
	if slave {
		if err := s.startAIF(ctx, aif); err != nil {
			return err
		}
	}
	if restartGraph {
		if err := eng.Start(ctx, s.g); err != nil {
			return s.graphError(err, "start")
		}
	}
	if !slave {
		if err := s.startAIF(ctx, aif); err != nil {
			if restartGraph {
				s.rollbackWarn(ctx, "graph_stop", eng.Stop(ctx, s.g, nil))
			}
			return err
		}
	}
	return nil
}

package session

import (
	"context"
	"fmt"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/metadata"
)

// linkApplies reports whether a routing change reaches the graph now or is
// only stored for the next Open
func (s *Session) linkApplies() bool {
	switch s.state {
	case StateOpened, StatePrepared, StateStarted, StateStopped:
		return true
	}
	return false
}

// SetLoopback routes the playback session partnerID into this capture
// session's graph, or removes that route. The request is stored and
// re-established by every later Open.
func (s *Session) SetLoopback(ctx context.Context, partnerID uint32, enable bool) (err error) {
	defer s.observe("set_loopback")(&err)
	if partnerID == s.id {
		return s.loopbackArgError("loopback to itself")
	}

	var partnerMD *metadata.Metadata
	if enable {
		partner, err := s.loopbackPartner(partnerID)
		if err != nil {
			return err
		}
		// read before taking our own lock
		partnerMD = partner.lockedMergedMetadata()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loopback.target == partnerID && s.loopback.enabled == enable {
		return s.alreadyApplied("set_loopback")
	}
	if enable && s.config.Direction != Capture {
		return s.loopbackArgError("loopback on a " + s.config.Direction.String() + " session")
	}

	if s.linkApplies() {
		if s.loopback.enabled && s.loopback.md != nil {
			// re-target or disable: the current edge goes first
			if err := s.removeLoopback(ctx); err != nil {
				return err
			}
		}
		if enable {
			if err := s.addLoopback(ctx, partnerID, partnerMD); err != nil {
				return err
			}
			return nil
		}
	}
	s.loopback = crossLink{target: partnerID, enabled: enable}
	return nil
}

// loopbackPartner returns partnerID when it is a playback session. The
// partner's lock is not taken.
func (s *Session) loopbackPartner(partnerID uint32) (*Session, error) {
	partner, err := s.pool.Get(partnerID)
	if err != nil {
		return nil, err
	}
	if d := partner.Direction(); d != Playback {
		return nil, s.loopbackArgError(fmt.Sprintf("loopback partner %d is a %s session", partnerID, d))
	}
	return partner, nil
}

func (s *Session) loopbackArgError(msg string) error {
	return errors.New(fmt.Errorf("session %d: %s: %w", s.id, msg, ErrInvalidArgument)).
		Component(ComponentSession).
		Category(errors.CategoryValidation).
		Context("operation", "set_loopback").
		Context("session_id", s.id).
		Build()
}

// applyLoopback re-establishes the stored loopback on Open. The partner's
// lock is taken briefly to read its metadata; this session is capture and
// the partner playback, so the partner never waits on us. Caller holds the
// session lock.
func (s *Session) applyLoopback(ctx context.Context, partnerID uint32) error {
	if s.config.Direction != Capture {
		return s.loopbackArgError("loopback on a " + s.config.Direction.String() + " session")
	}
	partner, err := s.loopbackPartner(partnerID)
	if err != nil {
		return err
	}
	return s.addLoopback(ctx, partnerID, partner.lockedMergedMetadata())
}

// addLoopback adds the loopback edge and records it as applied. Caller
// holds the session lock.
func (s *Session) addLoopback(ctx context.Context, partnerID uint32, partnerMD *metadata.Metadata) error {
	if s.g == nil {
		return s.invalidState("set_loopback")
	}
	md := metadata.Merge(s.mergedMetadata(), partnerMD)
	if err := s.pool.engine.Add(ctx, s.g, md, nil); err != nil {
		return s.graphError(err, "add")
	}
	s.loopback = crossLink{target: partnerID, enabled: true, md: md}
	s.log.Info("loopback updated",
		logger.Uint32("partner_id", partnerID),
		logger.Bool("enabled", true))
	return nil
}

// removeLoopback removes the applied edge with the metadata it was added
// with. Caller holds the session lock.
func (s *Session) removeLoopback(ctx context.Context) error {
	if s.g == nil {
		return s.invalidState("set_loopback")
	}
	if err := s.pool.engine.Remove(ctx, s.g, s.loopback.md); err != nil {
		return s.graphError(err, "remove")
	}
	s.log.Info("loopback updated",
		logger.Uint32("partner_id", s.loopback.target),
		logger.Bool("enabled", false))
	s.loopback = crossLink{target: s.loopback.target}
	return nil
}

// SetECRef routes device aifID into this session as an echo-cancellation
// reference, or removes that route. Stored like SetLoopback.
func (s *Session) SetECRef(ctx context.Context, aifID uint32, enable bool) (err error) {
	defer s.observe("set_ec_ref")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.registry.Get(aifID); err != nil {
		return errors.New(err).
			Component(ComponentSession).
			Context("operation", "set_ec_ref").
			Context("session_id", s.id).
			Context("aif_id", aifID).
			Build()
	}

	if s.ecRef.target == aifID && s.ecRef.enabled == enable {
		return s.alreadyApplied("set_ec_ref")
	}

	if s.linkApplies() && (enable || s.ecRef.enabled) {
		target := aifID
		if !enable {
			target = s.ecRef.target
		}
		if err := s.applyECRef(ctx, target, enable); err != nil {
			return err
		}
	}
	s.ecRef = crossLink{target: aifID, enabled: enable}
	return nil
}

// applyECRef adds or removes the reference edge built from the session's
// interface metadata and the reference device. Caller holds the session
// lock.
func (s *Session) applyECRef(ctx context.Context, aifID uint32, enable bool) error {
	if s.g == nil {
		return s.invalidState("set_ec_ref")
	}
	dev, err := s.pool.registry.Get(aifID)
	if err != nil {
		return err
	}
	md := metadata.Merge(s.mergedWithoutDevices(), dev.Metadata())

	eng := s.pool.engine
	if enable {
		if err := eng.Add(ctx, s.g, md, nil); err != nil {
			return s.graphError(err, "add")
		}
	} else if err := eng.Remove(ctx, s.g, md); err != nil {
		return s.graphError(err, "remove")
	}
	s.log.Info("ec reference updated",
		logger.AIFID(aifID),
		logger.Bool("enabled", enable))
	return nil
}

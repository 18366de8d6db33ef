package session

import (
	"context"
	"fmt"
	"math"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/metadata"
)

// NoAIF selects the session scope in calls that take an interface id
const NoAIF uint32 = math.MaxUint32

// SetMetadata replaces the session-level metadata. It takes effect for
// every later graph operation.
func (s *Session) SetMetadata(md *metadata.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.md.Replace(md)
}

// SetMetadataBlob decodes blob into the session-level metadata
func (s *Session) SetMetadataBlob(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.md.Copy(blob); err != nil {
		return errors.New(err).
			Component(ComponentSession).
			Context("operation", "set_metadata").
			Context("session_id", s.id).
			Build()
	}
	return nil
}

// SetAIFMetadata replaces the session×interface metadata of aifID, creating
// the interface on first reference
func (s *Session) SetAIFMetadata(aifID uint32, md *metadata.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	aif, err := s.getOrCreateAIF(aifID)
	if err != nil {
		return err
	}
	aif.md.Replace(md)
	return nil
}

// SetAIFMetadataBlob is SetAIFMetadata for an encoded blob
func (s *Session) SetAIFMetadataBlob(aifID uint32, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	aif, err := s.getOrCreateAIF(aifID)
	if err != nil {
		return err
	}
	if err := aif.md.Copy(blob); err != nil {
		return errors.New(err).
			Component(ComponentSession).
			Context("operation", "set_aif_metadata").
			Context("session_id", s.id).
			Context("aif_id", aifID).
			Build()
	}
	return nil
}

// SetParams pushes a session-wide config blob to the graph, or caches it
// for Open while the session is closed. An empty blob drops the cache.
func (s *Session) SetParams(ctx context.Context, blob []byte) (err error) {
	defer s.observe("set_params")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		if len(blob) == 0 {
			s.params = nil
		} else {
			s.params = clone(blob)
		}
		return nil
	}
	if err := s.pool.engine.SetConfig(ctx, s.g, blob); err != nil {
		return s.graphError(err, "set_config")
	}
	return nil
}

// SetParamsWithTag applies a tag-scoped blob against the session's graph
// key vector. The session must be open.
func (s *Session) SetParamsWithTag(ctx context.Context, blob []byte) (err error) {
	defer s.observe("set_params_with_tag")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.invalidState("set_params_with_tag")
	}
	if err := s.pool.engine.SetConfigWithTag(ctx, s.g, s.md.GKV, blob); err != nil {
		return s.graphError(err, "set_config_with_tag")
	}
	return nil
}

// SetAIFParams pushes a config blob for one interface, or caches it until
// the interface is connected
func (s *Session) SetAIFParams(ctx context.Context, aifID uint32, blob []byte) (err error) {
	defer s.observe("set_aif_params")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	aif, err := s.getOrCreateAIF(aifID)
	if err != nil {
		return err
	}
	if s.state != StateClosed && aif.state.AtLeast(AIFOpened) {
		aif.params = nil
		if err := s.pool.engine.SetConfig(ctx, s.g, blob); err != nil {
			return s.graphError(err, "set_config")
		}
		return nil
	}
	if len(blob) == 0 {
		aif.params = nil
	} else {
		aif.params = clone(blob)
	}
	return nil
}

// SetAIFParamsWithTag applies a tag-scoped blob keyed by the interface's
// merged graph key vector. On a running session an interface that is not
// connected yet keeps the blob until it is.
func (s *Session) SetAIFParamsWithTag(ctx context.Context, aifID uint32, blob []byte) (err error) {
	defer s.observe("set_aif_params_with_tag")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	aif, err := s.getOrCreateAIF(aifID)
	if err != nil {
		return err
	}
	if !aif.state.AtLeast(AIFOpened) {
		switch s.state {
		case StateStarted:
			aif.tagParams = clone(blob)
			return nil
		case StateClosed:
			return s.invalidState("set_aif_params_with_tag")
		}
	}
	if s.g == nil {
		return s.invalidState("set_aif_params_with_tag")
	}
	merged := aif.merged()
	if err := s.pool.engine.SetConfigWithTag(ctx, s.g, merged.GKV, blob); err != nil {
		return s.graphError(err, "set_config_with_tag")
	}
	return nil
}

// SetAIFCal changes calibration keys on all three layers of one connected
// interface and pushes the merged result
func (s *Session) SetAIFCal(ctx context.Context, aifID uint32, ckv []metadata.KV) (err error) {
	defer s.observe("set_aif_cal")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.invalidState("set_aif_cal")
	}
	aif, err := s.lookupAIF(aifID)
	if err != nil {
		return err
	}
	if !aif.state.AtLeast(AIFOpened) {
		return s.invalidState("set_aif_cal")
	}

	s.md.UpdateCal(ckv)
	aif.md.UpdateCal(ckv)
	aif.dev.UpdateCal(ckv)
	if err := s.pool.engine.SetCal(ctx, s.g, aif.merged()); err != nil {
		return s.graphError(err, "set_cal")
	}
	return nil
}

// SetCal changes session-level calibration keys. A live graph receives the
// full merged metadata.
func (s *Session) SetCal(ctx context.Context, ckv []metadata.KV) (err error) {
	defer s.observe("set_cal")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.md.UpdateCal(ckv)
	if s.g == nil {
		return nil
	}
	if err := s.pool.engine.SetCal(ctx, s.g, s.mergedMetadata()); err != nil {
		return s.graphError(err, "set_cal")
	}
	return nil
}

// GetParams queries the graph with blob and returns its answer
func (s *Session) GetParams(ctx context.Context, blob []byte) (out []byte, err error) {
	defer s.observe("get_params")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, s.invalidState("get_params")
	}
	out, err = s.pool.engine.GetConfig(ctx, s.g, blob)
	if err != nil {
		return nil, s.graphError(err, "get_config")
	}
	return out, nil
}

// GetTagsWithModuleInfo lists the tags reachable through the interface's
// merged metadata. Non-tunnel sessions answer for the session layer and
// take NoAIF.
func (s *Session) GetTagsWithModuleInfo(ctx context.Context, aifID uint32) (tags []graph.TagModuleInfo, err error) {
	defer s.observe("get_tags_with_module_info")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()

	var md *metadata.Metadata
	switch {
	case s.mode == ModeNonTunnel:
		md = s.md.Clone()
	case aifID == NoAIF:
		return nil, errors.New(fmt.Errorf("session %d: tag query needs an interface: %w", s.id, ErrInvalidArgument)).
			Component(ComponentSession).
			Category(errors.CategoryValidation).
			Context("operation", "get_tags_with_module_info").
			Context("session_id", s.id).
			Build()
	default:
		aif, err := s.lookupAIF(aifID)
		if err != nil {
			return nil, err
		}
		md = aif.merged()
	}

	tags, err = s.pool.engine.GetTagsWithModuleInfo(ctx, md)
	if err != nil {
		return nil, s.graphError(err, "get_tags_with_module_info")
	}
	return tags, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Package graph defines the contract of the processing graph engine that
// hosts a session's DSP pipeline, and a simulated engine for tests and demos.
package graph

import (
	"context"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/metadata"
)

// Graph is a live pipeline handle. It is owned by exactly one session.
type Graph struct {
	ID        uint64
	SessionID uint32
}

// MediaConfig describes the PCM format of a stream
type MediaConfig struct {
	Rate     uint32 `json:"rate"`
	Channels uint32 `json:"channels"`
	BitWidth uint32 `json:"bit_width"`
	Format   uint32 `json:"format"`
}

// BufferConfig describes the data-path buffering of a stream
type BufferConfig struct {
	Count uint32 `json:"count"`
	Size  uint32 `json:"size"`
}

// GaplessKind selects which gapless silence value is being set
type GaplessKind int

const (
	GaplessInitialSilence GaplessKind = iota
	GaplessTrailingSilence
)

// EventRegistration subscribes to or unsubscribes from a module event
type EventRegistration struct {
	ModuleInstanceID uint32 `json:"module_instance_id"`
	EventID          uint32 `json:"event_id"`
	Register         bool   `json:"register"`
	Payload          []byte `json:"payload,omitempty"`
}

// TagModuleInfo maps a tag to the module instances carrying it
type TagModuleInfo struct {
	Tag       uint32   `json:"tag"`
	ModuleIDs []uint32 `json:"module_ids"`
}

// Engine is the remote processing graph engine. Every call is synchronous
// and may block on I/O; none are idempotent. Open either returns a usable
// graph or leaves nothing behind.
type Engine interface {
	Open(ctx context.Context, md *metadata.Metadata, sessionID uint32, dev *device.Device) (*Graph, error)
	Add(ctx context.Context, g *Graph, md *metadata.Metadata, dev *device.Device) error
	Remove(ctx context.Context, g *Graph, md *metadata.Metadata) error
	Change(ctx context.Context, g *Graph, md *metadata.Metadata, dev *device.Device) error
	Prepare(ctx context.Context, g *Graph) error
	Start(ctx context.Context, g *Graph) error
	// Stop stops the sub-graph selected by md, or the whole graph when md is nil
	Stop(ctx context.Context, g *Graph, md *metadata.Metadata) error
	Pause(ctx context.Context, g *Graph) error
	Resume(ctx context.Context, g *Graph) error
	Flush(ctx context.Context, g *Graph) error
	Suspend(ctx context.Context, g *Graph) error
	Close(ctx context.Context, g *Graph) error

	Read(ctx context.Context, g *Graph, buf []byte) (int, error)
	Write(ctx context.Context, g *Graph, buf []byte) (int, error)
	EOS(ctx context.Context, g *Graph) error

	SetConfig(ctx context.Context, g *Graph, blob []byte) error
	GetConfig(ctx context.Context, g *Graph, blob []byte) ([]byte, error)
	SetConfigWithTag(ctx context.Context, g *Graph, gkv []metadata.KV, blob []byte) error
	SetCal(ctx context.Context, g *Graph, md *metadata.Metadata) error
	SetMediaConfig(ctx context.Context, g *Graph, mc MediaConfig, md *metadata.Metadata) error
	SetGaplessMetadata(ctx context.Context, g *Graph, kind GaplessKind, silence uint32) error

	RegisterCallback(ctx context.Context, g *Graph, fn Callback, sessionID uint32) error
	RegisterForEvents(ctx context.Context, g *Graph, reg EventRegistration) error
	GetTagsWithModuleInfo(ctx context.Context, md *metadata.Metadata) ([]TagModuleInfo, error)

	GetSessionTime(ctx context.Context, g *Graph) (uint64, error)
	GetBufferTimestamp(ctx context.Context, g *Graph) (uint64, error)
	GetHWProcessedCount(ctx context.Context, g *Graph) (uint64, error)
}

// internal/api/v1/events.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/session"
)

// EventRecord is one engine event buffered for polling clients
type EventRecord struct {
	Kind           string    `json:"kind"`
	SessionID      uint32    `json:"session_id"`
	SourceModuleID uint32    `json:"source_module_id"`
	EventID        uint32    `json:"event_id"`
	Payload        []byte    `json:"payload,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// EventsResponse is the body of GET /sessions/:id/events
type EventsResponse struct {
	SessionID uint32        `json:"session_id"`
	Events    []EventRecord `json:"events"`
	Dropped   int           `json:"dropped"`
}

type eventBacklog struct {
	mu      sync.Mutex
	events  []EventRecord
	max     int
	dropped int
}

func (b *eventBacklog) append(rec EventRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.events) >= b.max {
		b.events = b.events[1:]
		b.dropped++
	}
	b.events = append(b.events, rec)
}

func (b *eventBacklog) drain() ([]EventRecord, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, dropped := b.events, b.dropped
	b.events, b.dropped = nil, 0
	if out == nil {
		out = []EventRecord{}
	}
	return out, dropped
}

func (c *Controller) initEventRoutes() {
	c.Group.GET("/sessions/:id/events", c.GetEvents)
}

func backlogKey(sessionID uint32) string {
	return strconv.FormatUint(uint64(sessionID), 10)
}

// watch subscribes the controller to a session's data path and module
// events once per session
func (c *Controller) watch(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[s.ID()] {
		return
	}

	if _, err := s.RegisterCallback(session.DataPath, c.recordEvent(session.DataPath), nil); err != nil {
		c.logger.Warn("data path subscription failed", logger.SessionID(s.ID()), logger.Error(err))
		return
	}
	if _, err := s.RegisterCallback(session.Module, c.recordEvent(session.Module), nil); err != nil {
		c.logger.Warn("module subscription failed", logger.SessionID(s.ID()), logger.Error(err))
		return
	}
	c.watched[s.ID()] = true
}

func (c *Controller) recordEvent(kind session.EventKind) session.Handler {
	return func(sessionID uint32, ev graph.Event, _ any) {
		// early EOS reaches both subscriptions; keep the data path copy
		if kind == session.Module && !ev.IsModule() {
			return
		}
		rec := EventRecord{
			Kind:           kind.String(),
			SessionID:      sessionID,
			SourceModuleID: ev.SourceModuleID,
			EventID:        ev.EventID,
			Payload:        append([]byte(nil), ev.Payload...),
			ReceivedAt:     time.Now(),
		}

		key := backlogKey(sessionID)
		c.eventsMu.Lock()
		defer c.eventsMu.Unlock()
		var b *eventBacklog
		if v, ok := c.events.Get(key); ok {
			b = v.(*eventBacklog)
		} else {
			b = &eventBacklog{max: c.eventBacklog}
		}
		b.append(rec)
		// re-set to refresh the expiry
		c.events.Set(key, b, cache.DefaultExpiration)
	}
}

// GetEvents handles GET /api/v1/sessions/:id/events. It returns and clears
// the events buffered since the previous call.
func (c *Controller) GetEvents(ctx echo.Context) error {
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "event query failed")
	}

	resp := EventsResponse{SessionID: s.ID(), Events: []EventRecord{}}
	c.eventsMu.Lock()
	c.events.DeleteExpired()
	v, ok := c.events.Get(backlogKey(s.ID()))
	c.eventsMu.Unlock()
	if ok {
		resp.Events, resp.Dropped = v.(*eventBacklog).drain()
	}
	return ctx.JSON(http.StatusOK, resp)
}

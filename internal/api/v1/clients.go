// internal/api/v1/clients.go
package api

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/session"
)

// ClientCloseResult reports what DELETE /clients/:client tore down
type ClientCloseResult struct {
	Client string   `json:"client"`
	Closed []uint32 `json:"closed"`
	Errors []string `json:"errors,omitempty"`
}

func (c *Controller) initClientRoutes() {
	c.Group.GET("/clients/:client", c.GetClientSessions)
	c.Group.DELETE("/clients/:client", c.CloseClient)
}

// claim records that client opened sessionID. Empty clients are not tracked.
func (c *Controller) claim(client string, sessionID uint32) {
	if client == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	owned, ok := c.clients[client]
	if !ok {
		owned = make(map[uint32]struct{})
		c.clients[client] = owned
	}
	owned[sessionID] = struct{}{}
}

// release forgets sessionID for every client
func (c *Controller) release(sessionID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client, owned := range c.clients {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(c.clients, client)
		}
	}
}

func (c *Controller) owned(client string) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.clients[client]))
	for id := range c.clients[client] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GetClientSessions handles GET /api/v1/clients/:client
func (c *Controller) GetClientSessions(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"client":   ctx.Param("client"),
		"sessions": c.owned(ctx.Param("client")),
	})
}

// CloseClient handles DELETE /api/v1/clients/:client. Every session the
// client opened and did not close yet is closed; failures are reported but
// do not stop the sweep.
func (c *Controller) CloseClient(ctx echo.Context) error {
	client := ctx.Param("client")
	res := ClientCloseResult{Client: client, Closed: []uint32{}}

	for _, id := range c.owned(client) {
		s, err := c.Pool.Get(id)
		if err != nil {
			c.release(id)
			continue
		}
		if s.State() != session.StateClosed {
			if err := s.Close(ctx.Request().Context()); err != nil {
				c.logger.Warn("client session close failed",
					logger.String("client", client),
					logger.SessionID(id),
					logger.Error(err))
				res.Errors = append(res.Errors, err.Error())
			}
			res.Closed = append(res.Closed, id)
		}
		c.release(id)
	}

	c.logger.Info("client sessions closed",
		logger.String("client", client),
		logger.Int("closed", len(res.Closed)))
	return ctx.JSON(http.StatusOK, res)
}

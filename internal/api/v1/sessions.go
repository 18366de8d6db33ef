// internal/api/v1/sessions.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/metadata"
	"github.com/tphakala/agm/internal/session"
)

// OpenRequest is the body of POST /sessions/:id/open
type OpenRequest struct {
	Mode      string             `json:"mode"`
	Direction string             `json:"direction"`
	Media     *graph.MediaConfig `json:"media,omitempty"`
}

// ConnectRequest is the body of POST /sessions/:id/aif/:aif/connect
type ConnectRequest struct {
	Attach bool `json:"attach"`
}

// LoopbackRequest is the body of POST /sessions/:id/loopback
type LoopbackRequest struct {
	Partner uint32 `json:"partner"`
	Enable  bool   `json:"enable"`
}

// ECRefRequest is the body of POST /sessions/:id/ecref
type ECRefRequest struct {
	AIF    uint32 `json:"aif"`
	Enable bool   `json:"enable"`
}

// ParamsRequest carries an opaque parameter blob (base64 in JSON)
type ParamsRequest struct {
	Blob   []byte `json:"blob"`
	Tagged bool   `json:"tagged"`
}

// CalibrationRequest carries calibration key/values
type CalibrationRequest struct {
	CKV []metadata.KV `json:"ckv"`
}

// TimestampResponse reports the data path counters of a session
type TimestampResponse struct {
	SessionTime     uint64 `json:"session_time"`
	HWProcessed     uint64 `json:"hw_processed"`
	BufferTimestamp uint64 `json:"buffer_timestamp,omitempty"`
}

// ActionResult is returned by lifecycle actions
type ActionResult struct {
	Action  string       `json:"action"`
	Session session.Info `json:"session"`
}

type sessionAction func(s *session.Session, ctx echo.Context) error

func (c *Controller) initSessionRoutes() {
	g := c.Group.Group("/sessions")
	g.GET("", c.ListSessions)
	g.GET("/:id", c.GetSession)

	g.POST("/:id/open", c.OpenSession)
	actions := map[string]sessionAction{
		"prepare": func(s *session.Session, ctx echo.Context) error { return s.Prepare(ctx.Request().Context()) },
		"start":   func(s *session.Session, ctx echo.Context) error { return s.Start(ctx.Request().Context()) },
		"stop":    func(s *session.Session, ctx echo.Context) error { return s.Stop(ctx.Request().Context()) },
		"pause":   func(s *session.Session, ctx echo.Context) error { return s.Pause(ctx.Request().Context()) },
		"resume":  func(s *session.Session, ctx echo.Context) error { return s.Resume(ctx.Request().Context()) },
		"suspend": func(s *session.Session, ctx echo.Context) error { return s.Suspend(ctx.Request().Context()) },
		"flush":   func(s *session.Session, ctx echo.Context) error { return s.Flush(ctx.Request().Context()) },
		"eos":     func(s *session.Session, ctx echo.Context) error { return s.EOS(ctx.Request().Context()) },
	}
	for name, fn := range actions {
		g.POST("/:id/"+name, c.sessionAction(name, fn))
	}
	g.POST("/:id/close", c.CloseSession)

	g.PUT("/:id/config", c.SetSessionConfig)
	g.PUT("/:id/metadata", c.SetSessionMetadata)
	g.PUT("/:id/params", c.SetSessionParams)
	g.PUT("/:id/calibration", c.SetSessionCalibration)
	g.GET("/:id/timestamp", c.GetTimestamp)
	g.GET("/:id/tags", c.GetTags)

	g.PUT("/:id/aif/:aif/metadata", c.SetAIFMetadata)
	g.PUT("/:id/aif/:aif/params", c.SetAIFParams)
	g.PUT("/:id/aif/:aif/calibration", c.SetAIFCalibration)
	g.POST("/:id/aif/:aif/connect", c.ConnectAIF)
	g.GET("/:id/aif/:aif/tags", c.GetTags)

	g.POST("/:id/loopback", c.SetLoopback)
	g.POST("/:id/ecref", c.SetECRef)
}

// lookup resolves :id to an existing session
func (c *Controller) lookup(ctx echo.Context) (*session.Session, error) {
	id, err := uintParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return c.Pool.Get(id)
}

// lookupOrCreate resolves :id, creating the session on first reference
func (c *Controller) lookupOrCreate(ctx echo.Context) (*session.Session, error) {
	id, err := uintParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return c.Pool.GetOrCreate(id)
}

// ListSessions handles GET /api/v1/sessions
func (c *Controller) ListSessions(ctx echo.Context) error {
	sessions := c.Pool.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return ctx.JSON(http.StatusOK, infos)
}

// GetSession handles GET /api/v1/sessions/:id
func (c *Controller) GetSession(ctx echo.Context) error {
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "session lookup failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

// OpenSession handles POST /api/v1/sessions/:id/open
func (c *Controller) OpenSession(ctx echo.Context) error {
	var req OpenRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "open failed")
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return c.HandleError(ctx, err, "open failed")
	}
	dir, err := session.ParseDirection(req.Direction)
	if err != nil {
		return c.HandleError(ctx, err, "open failed")
	}

	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "open failed")
	}
	if s.State() != session.StateClosed {
		// surfaces the already-applied conflict without touching the config
		return c.HandleError(ctx, s.Open(ctx.Request().Context(), mode), "open failed")
	}

	cfg := s.Config()
	cfg.Direction = dir
	if req.Media != nil {
		cfg.Media = *req.Media
	}
	if err := s.SetConfig(ctx.Request().Context(), cfg); err != nil {
		return c.HandleError(ctx, err, "open failed")
	}

	c.watch(s)
	if err := s.Open(ctx.Request().Context(), mode); err != nil {
		return c.HandleError(ctx, err, "open failed")
	}
	c.claim(ctx.Request().Header.Get(ClientHeader), s.ID())
	return ctx.JSON(http.StatusOK, ActionResult{Action: "open", Session: s.Info()})
}

func (c *Controller) sessionAction(name string, fn sessionAction) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		s, err := c.lookup(ctx)
		if err != nil {
			return c.HandleError(ctx, err, name+" failed")
		}
		if err := fn(s, ctx); err != nil {
			return c.HandleError(ctx, err, name+" failed")
		}
		return ctx.JSON(http.StatusOK, ActionResult{Action: name, Session: s.Info()})
	}
}

// CloseSession handles POST /api/v1/sessions/:id/close
func (c *Controller) CloseSession(ctx echo.Context) error {
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "close failed")
	}
	err = s.Close(ctx.Request().Context())
	// the session is torn down even when a collaborator reported failure
	c.release(s.ID())
	if err != nil {
		return c.HandleError(ctx, err, "close failed")
	}
	return ctx.JSON(http.StatusOK, ActionResult{Action: "close", Session: s.Info()})
}

// SetSessionConfig handles PUT /api/v1/sessions/:id/config
func (c *Controller) SetSessionConfig(ctx echo.Context) error {
	var req struct {
		Direction string             `json:"direction"`
		Media     graph.MediaConfig  `json:"media"`
		Buffer    graph.BufferConfig `json:"buffer"`
	}
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "config update failed")
	}
	dir, err := session.ParseDirection(req.Direction)
	if err != nil {
		return c.HandleError(ctx, err, "config update failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "config update failed")
	}
	cfg := session.StreamConfig{Direction: dir, Media: req.Media, Buffer: req.Buffer}
	if err := s.SetConfig(ctx.Request().Context(), cfg); err != nil {
		return c.HandleError(ctx, err, "config update failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

// SetSessionMetadata handles PUT /api/v1/sessions/:id/metadata
func (c *Controller) SetSessionMetadata(ctx echo.Context) error {
	var md metadata.Metadata
	if err := bind(ctx, &md); err != nil {
		return c.HandleError(ctx, err, "metadata update failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "metadata update failed")
	}
	s.SetMetadata(&md)
	return ctx.JSON(http.StatusOK, s.Info())
}

// SetSessionParams handles PUT /api/v1/sessions/:id/params
func (c *Controller) SetSessionParams(ctx echo.Context) error {
	var req ParamsRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "params update failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "params update failed")
	}
	if req.Tagged {
		err = s.SetParamsWithTag(ctx.Request().Context(), req.Blob)
	} else {
		err = s.SetParams(ctx.Request().Context(), req.Blob)
	}
	if err != nil {
		return c.HandleError(ctx, err, "params update failed")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// SetSessionCalibration handles PUT /api/v1/sessions/:id/calibration
func (c *Controller) SetSessionCalibration(ctx echo.Context) error {
	var req CalibrationRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "calibration failed")
	}
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "calibration failed")
	}
	if err := s.SetCal(ctx.Request().Context(), req.CKV); err != nil {
		return c.HandleError(ctx, err, "calibration failed")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetTimestamp handles GET /api/v1/sessions/:id/timestamp
func (c *Controller) GetTimestamp(ctx echo.Context) error {
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "timestamp query failed")
	}
	rctx := ctx.Request().Context()
	var resp TimestampResponse
	if resp.SessionTime, err = s.GetTimestamp(rctx); err != nil {
		return c.HandleError(ctx, err, "timestamp query failed")
	}
	if resp.HWProcessed, err = s.GetHWProcessedCount(rctx); err != nil {
		return c.HandleError(ctx, err, "timestamp query failed")
	}
	if s.State() == session.StateStarted {
		if resp.BufferTimestamp, err = s.GetBufferTimestamp(rctx); err != nil {
			return c.HandleError(ctx, err, "timestamp query failed")
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

// GetTags handles GET /api/v1/sessions/:id/tags and /sessions/:id/aif/:aif/tags
func (c *Controller) GetTags(ctx echo.Context) error {
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "tag query failed")
	}
	aifID := session.NoAIF
	if ctx.Param("aif") != "" {
		if aifID, err = uintParam(ctx, "aif"); err != nil {
			return c.HandleError(ctx, err, "tag query failed")
		}
	}
	tags, err := s.GetTagsWithModuleInfo(ctx.Request().Context(), aifID)
	if err != nil {
		return c.HandleError(ctx, err, "tag query failed")
	}
	return ctx.JSON(http.StatusOK, tags)
}

// SetAIFMetadata handles PUT /api/v1/sessions/:id/aif/:aif/metadata
func (c *Controller) SetAIFMetadata(ctx echo.Context) error {
	var md metadata.Metadata
	if err := bind(ctx, &md); err != nil {
		return c.HandleError(ctx, err, "interface metadata update failed")
	}
	aifID, err := uintParam(ctx, "aif")
	if err != nil {
		return c.HandleError(ctx, err, "interface metadata update failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "interface metadata update failed")
	}
	if err := s.SetAIFMetadata(aifID, &md); err != nil {
		return c.HandleError(ctx, err, "interface metadata update failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

// SetAIFParams handles PUT /api/v1/sessions/:id/aif/:aif/params
func (c *Controller) SetAIFParams(ctx echo.Context) error {
	var req ParamsRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "interface params update failed")
	}
	aifID, err := uintParam(ctx, "aif")
	if err != nil {
		return c.HandleError(ctx, err, "interface params update failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "interface params update failed")
	}
	if req.Tagged {
		err = s.SetAIFParamsWithTag(ctx.Request().Context(), aifID, req.Blob)
	} else {
		err = s.SetAIFParams(ctx.Request().Context(), aifID, req.Blob)
	}
	if err != nil {
		return c.HandleError(ctx, err, "interface params update failed")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// SetAIFCalibration handles PUT /api/v1/sessions/:id/aif/:aif/calibration
func (c *Controller) SetAIFCalibration(ctx echo.Context) error {
	var req CalibrationRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "interface calibration failed")
	}
	aifID, err := uintParam(ctx, "aif")
	if err != nil {
		return c.HandleError(ctx, err, "interface calibration failed")
	}
	s, err := c.lookup(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "interface calibration failed")
	}
	if err := s.SetAIFCal(ctx.Request().Context(), aifID, req.CKV); err != nil {
		return c.HandleError(ctx, err, "interface calibration failed")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ConnectAIF handles POST /api/v1/sessions/:id/aif/:aif/connect
func (c *Controller) ConnectAIF(ctx echo.Context) error {
	var req ConnectRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "connect failed")
	}
	aifID, err := uintParam(ctx, "aif")
	if err != nil {
		return c.HandleError(ctx, err, "connect failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "connect failed")
	}
	if err := s.ConnectAIF(ctx.Request().Context(), aifID, req.Attach); err != nil {
		return c.HandleError(ctx, err, "connect failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

// SetLoopback handles POST /api/v1/sessions/:id/loopback
func (c *Controller) SetLoopback(ctx echo.Context) error {
	var req LoopbackRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "loopback failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "loopback failed")
	}
	if err := s.SetLoopback(ctx.Request().Context(), req.Partner, req.Enable); err != nil {
		return c.HandleError(ctx, err, "loopback failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

// SetECRef handles POST /api/v1/sessions/:id/ecref
func (c *Controller) SetECRef(ctx echo.Context) error {
	var req ECRefRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "echo reference failed")
	}
	s, err := c.lookupOrCreate(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "echo reference failed")
	}
	if err := s.SetECRef(ctx.Request().Context(), req.AIF, req.Enable); err != nil {
		return c.HandleError(ctx, err, "echo reference failed")
	}
	return ctx.JSON(http.StatusOK, s.Info())
}

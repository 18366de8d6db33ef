// internal/api/v1/api.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	mw "github.com/tphakala/agm/internal/api/middleware"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/observability"
	"github.com/tphakala/agm/internal/session"
)

// ClientHeader names the calling client. Sessions opened with it are closed
// together by DELETE /clients/:client.
const ClientHeader = "X-AGM-Client"

// Event backlog defaults
const (
	DefaultEventTTL     = 5 * time.Minute
	DefaultEventBacklog = 1024
)

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group
	Pool  *session.Pool

	metrics *observability.Metrics
	logger  logger.Logger

	// per-session callback backlog, keyed by session id
	eventTTL     time.Duration
	eventBacklog int
	events       *cache.Cache
	eventsMu     sync.Mutex

	mu      sync.Mutex
	watched map[uint32]bool
	clients map[string]map[uint32]struct{}

	startTime time.Time
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics mounts GET /metrics on the API group's parent.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithEventBacklog sets how long and how many undelivered events are kept per session.
func WithEventBacklog(ttl time.Duration, size int) Option {
	return func(c *Controller) {
		c.eventTTL = ttl
		c.eventBacklog = size
	}
}

// New creates a controller and registers its routes under /api/v1.
func New(e *echo.Echo, pool *session.Pool, opts ...Option) *Controller {
	c := &Controller{
		Echo:         e,
		Pool:         pool,
		logger:       logger.Global().Module("api"),
		eventTTL:     DefaultEventTTL,
		eventBacklog: DefaultEventBacklog,
		watched:      make(map[uint32]bool),
		clients:      make(map[string]map[uint32]struct{}),
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// no janitor goroutine; expired entries are dropped on access
	c.events = cache.New(c.eventTTL, 0)

	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initDeviceRoutes()
	c.initSessionRoutes()
	c.initEventRoutes()
	c.initClientRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck handles GET /api/v1/health
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"sessions":       len(c.Pool.List()),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Category      string `json:"category,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// StatusForError maps an error category to an HTTP status
func StatusForError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryState, errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryDevice, errors.CategoryGraph:
		return http.StatusBadGateway
	case errors.CategoryResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err and writes an ErrorResponse with the mapped status
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := StatusForError(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: ctx.Response().Header().Get(echo.HeaderXRequestID),
	}
	if category := errors.CategoryOf(err); category != errors.CategoryGeneric {
		resp.Category = string(category)
		ctx.Response().Header().Set(mw.HeaderErrorCategory, resp.Category)
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Int("code", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error(message, fields...)
	} else {
		c.logger.Debug(message, fields...)
	}
	return ctx.JSON(code, resp)
}

// badRequest builds a validation error for malformed input
func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// uintParam parses a uint32 path parameter
func uintParam(ctx echo.Context, name string) (uint32, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 0, 32)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, ctx.Param(name))
	}
	return uint32(v), nil
}

// bind decodes the request body, mapping decode failures to validation errors
func bind(ctx echo.Context, v any) error {
	if err := ctx.Bind(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/observability"
	"github.com/tphakala/agm/internal/session"
)

func newTestPool(t *testing.T) *session.Pool {
	t.Helper()
	reg, err := device.NewRegistry(device.NewSimBackend(), device.Spec{ID: 1, Name: "speaker"})
	require.NoError(t, err)
	pool, err := session.NewPool(session.Config{Registry: reg, Engine: graph.NewSimEngine(64)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return pool
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{
		API:     conf.APISettings{Enabled: true, Listen: "0.0.0.0:9000", EventBacklog: 8},
		Metrics: conf.MetricsSettings{Enabled: true},
	}
	cfg := ConfigFromSettings(settings)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 8, cfg.EventBacklog)
	assert.Equal(t, 5*time.Minute, cfg.EventTTL)
	assert.True(t, cfg.ServeMetrics)

	settings.Metrics.Listen = "127.0.0.1:9100"
	assert.False(t, ConfigFromSettings(settings).ServeMetrics)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen", func(c *Config) { c.Listen = "nope" }},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"zero backlog", func(c *Config) { c.EventBacklog = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewRejectsMissingPool(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestServerMiddlewareStack(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ServeMetrics = true
	srv, err := New(cfg, newTestPool(t), WithMetrics(m))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/99", http.NoBody))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agm_http_requests_total{method="GET",path="/api/v1/health",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `agm_http_request_errors_total{category="not-found",method="GET",path="/api/v1/sessions/:id"} 1`)
	assert.Contains(t, rec.Body.String(), "agm_http_requests_in_flight 1")
	assert.NotNil(t, srv.APIController())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	srv, err := New(DefaultConfig(), newTestPool(t))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

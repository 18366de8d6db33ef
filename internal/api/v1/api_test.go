package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/metadata"
	"github.com/tphakala/agm/internal/observability"
	"github.com/tphakala/agm/internal/session"
)

func gkv(key, value uint32) *metadata.Metadata {
	return &metadata.Metadata{GKV: []metadata.KV{{Key: key, Value: value}}}
}

type testEnv struct {
	echo       *echo.Echo
	controller *Controller
	pool       *session.Pool
	engine     *graph.SimEngine
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	reg, err := device.NewRegistry(device.NewSimBackend(),
		device.Spec{ID: 1, Name: "speaker", Metadata: gkv(0xA2000000, 0xA2000001)},
		device.Spec{ID: 2, Name: "handset-mic", Metadata: gkv(0xA3000000, 0xA3000001)},
		device.Spec{ID: 3, Name: "slimbus-rx", Class: device.ClassSlave, Metadata: gkv(0xA2000000, 0xA2000002)},
		device.Spec{ID: 4, Name: "ec-reference", Metadata: gkv(0xA2000000, 0xA2000003)},
	)
	require.NoError(t, err)
	engine := graph.NewSimEngine(1024)
	pool, err := session.NewPool(session.Config{Registry: reg, Engine: engine})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	e := echo.New()
	return &testEnv{echo: e, controller: New(e, pool, opts...), pool: pool, engine: engine}
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

// waitBuffered waits until n events, dropped ones included, are buffered
// for a session. Callbacks run on the pool's dispatcher.
func (env *testEnv) waitBuffered(t *testing.T, sessionID uint32, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		env.controller.eventsMu.Lock()
		v, ok := env.controller.events.Get(backlogKey(sessionID))
		env.controller.eventsMu.Unlock()
		if !ok {
			return false
		}
		b := v.(*eventBacklog)
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.events)+b.dropped >= n
	}, time.Second, 5*time.Millisecond)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.InDelta(t, 0, body["sessions"], 0)
}

func TestListAndUpdateDevices(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	devices := decode[[]DeviceInfo](t, rec)
	require.Len(t, devices, 4)
	assert.Equal(t, "speaker", devices[0].Name)
	assert.Equal(t, "slave", devices[2].Class)
	assert.Equal(t, "closed", devices[0].State)

	rec = env.do(t, http.MethodPut, "/api/v1/devices/2/params", `{"blob":"AQI="}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[DeviceInfo](t, rec).PendingParams)

	rec = env.do(t, http.MethodPut, "/api/v1/devices/2/metadata", `{"gkv":[{"key":1,"value":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	d, err := env.pool.Registry().Get(2)
	require.NoError(t, err)
	assert.Equal(t, []metadata.KV{{Key: 1, Value: 2}}, d.Metadata().GKV)

	rec = env.do(t, http.MethodGet, "/api/v1/devices/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/1/aif/1/connect", `{"attach":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/1/open",
		`{"mode":"default","direction":"playback","media":{"rate":48000,"channels":2,"bit_width":16}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ActionResult](t, rec)
	assert.Equal(t, "opened", res.Session.State)
	assert.Equal(t, uint32(48000), res.Session.Config.Media.Rate)

	for _, action := range []string{"prepare", "start"} {
		rec = env.do(t, http.MethodPost, "/api/v1/sessions/1/"+action, "")
		require.Equal(t, http.StatusOK, rec.Code, action)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[session.Info](t, rec)
	assert.Equal(t, "started", info.State)
	require.Len(t, info.Interfaces, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/1/timestamp", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]session.Info](t, rec), 1)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decode[ActionResult](t, rec).Session.State)
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodPost, "/api/v1/sessions/9/start", "", http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/v1/sessions/abc", "", http.StatusBadRequest},
		{"bad mode", http.MethodPost, "/api/v1/sessions/5/open", `{"mode":"turbo"}`, http.StatusBadRequest},
		{"bad direction", http.MethodPost, "/api/v1/sessions/5/open", `{"direction":"sideways"}`, http.StatusBadRequest},
		{"open without interface", http.MethodPost, "/api/v1/sessions/5/open", `{}`, http.StatusConflict},
		{"malformed body", http.MethodPost, "/api/v1/sessions/5/loopback", `{"partner":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := env.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, rec.Code, tt.name)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, tt.want, resp.Code, tt.name)
		assert.NotEmpty(t, resp.Error, tt.name)
	}
}

func TestStartTwiceIsConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/2/aif/2/connect", `{"attach":true}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/2/open", `{"direction":"capture"}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/2/start", "").Code)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/2/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Category)
}

func TestEventsAreBufferedAndDrained(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/3/open", `{"mode":"non-tunnel"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s, err := env.pool.Get(3)
	require.NoError(t, err)
	_, err = s.Write(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	require.True(t, env.engine.Emit(3, graph.Event{SourceModuleID: 0x7001, EventID: 0x42, Payload: []byte{9}}))
	env.waitBuffered(t, 3, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/3/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[EventsResponse](t, rec)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "data_path", resp.Events[0].Kind)
	assert.Equal(t, graph.EventWriteDone, resp.Events[0].EventID)
	assert.Equal(t, "module", resp.Events[1].Kind)
	assert.Equal(t, []byte{9}, resp.Events[1].Payload)

	// drained
	rec = env.do(t, http.MethodGet, "/api/v1/sessions/3/events", "")
	assert.Empty(t, decode[EventsResponse](t, rec).Events)

	// early EOS is recorded once
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/3/flush", "").Code)
	env.waitBuffered(t, 3, 1)
	resp = decode[EventsResponse](t, env.do(t, http.MethodGet, "/api/v1/sessions/3/events", ""))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, graph.EventEarlyEOS, resp.Events[0].EventID)
}

func TestEventBacklogDropsOldest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithEventBacklog(DefaultEventTTL, 2))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/4/open", `{"mode":"non-tunnel"}`).Code)

	for id := uint32(1); id <= 3; id++ {
		require.True(t, env.engine.Emit(4, graph.Event{SourceModuleID: 0x7001, EventID: id}))
	}
	env.waitBuffered(t, 4, 3)
	resp := decode[EventsResponse](t, env.do(t, http.MethodGet, "/api/v1/sessions/4/events", ""))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, uint32(2), resp.Events[0].EventID)
	assert.Equal(t, 1, resp.Dropped)
}

func TestCloseClientSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, id := range []string{"1", "3"} {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/open", `{"mode":"non-tunnel"}`, ClientHeader, "client-a")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, http.StatusOK,
		env.do(t, http.MethodPost, "/api/v1/sessions/2/open", `{"mode":"non-tunnel"}`, ClientHeader, "client-b").Code)

	rec := env.do(t, http.MethodGet, "/api/v1/clients/client-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":[1,3]`)

	rec = env.do(t, http.MethodDelete, "/api/v1/clients/client-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ClientCloseResult](t, rec)
	assert.Equal(t, []uint32{1, 3}, res.Closed)
	assert.Empty(t, res.Errors)

	for id, want := range map[uint32]session.State{1: session.StateClosed, 3: session.StateClosed, 2: session.StateOpened} {
		s, err := env.pool.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, s.State(), "session %d", id)
	}

	// nothing left to close
	res = decode[ClientCloseResult](t, env.do(t, http.MethodDelete, "/api/v1/clients/client-a", ""))
	assert.Empty(t, res.Closed)
}

func TestParamsAndMetadataRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK,
		env.do(t, http.MethodPut, "/api/v1/sessions/1/metadata", `{"gkv":[{"key":2701131776,"value":1}]}`).Code)
	require.Equal(t, http.StatusOK,
		env.do(t, http.MethodPut, "/api/v1/sessions/1/aif/1/metadata", `{"gkv":[{"key":2868903936,"value":1}]}`).Code)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/api/v1/sessions/1/params", `{"blob":"CQ=="}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/1/aif/1/connect", `{"attach":true}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sessions/1/open", `{}`).Code)

	// cached session params were pushed on open
	calls := env.engine.CallsOf(graph.OpSetConfig)
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{9}, calls[0].Blob)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/api/v1/sessions/1/aif/1/params", `{"blob":"Aw==","tagged":true}`).Code)
	assert.Len(t, env.engine.CallsOf(graph.OpSetConfigWithTag), 1)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/api/v1/sessions/1/aif/1/calibration", `{"ckv":[{"key":3221225473,"value":48000}]}`).Code)
	assert.Len(t, env.engine.CallsOf(graph.OpSetCal), 1)

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/1/aif/1/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]graph.TagModuleInfo](t, rec))
}

func TestMetricsRouteMounted(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	env := newTestEnv(t, WithMetrics(m))

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusForError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusTeapot, StatusForError(echo.NewHTTPError(http.StatusTeapot)))
	assert.Equal(t, http.StatusBadRequest, StatusForError(badRequest("nope")))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(assert.AnError))
}

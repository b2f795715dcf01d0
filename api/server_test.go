package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/hal"
	"github.com/zplc/zplc-core/memory"
	"github.com/zplc/zplc-core/scheduler"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	plane := memory.New()
	plane.Init()
	h := hal.NewSimHAL(nil)
	debug := debugchan.NewChannel(debugchan.ModeOff)
	limits := scheduler.Limits{MinIntervalUS: 1000, MaxIntervalUS: 1_000_000_000, MaxTasks: 8, LockTimeoutMS: 200}
	sched := scheduler.New(plane, h, limits, nil, nil, debug)
	require.NoError(t, sched.Init())
	t.Cleanup(func() {
		_ = sched.Shutdown()
		debug.Close()
	})
	return NewServer(sched, debug, "127.0.0.1:0")
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "idle", resp.State)
}

func TestRegisterTaskAndListTasks(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", RegisterTaskRequest{
		ID: 1, IntervalUS: 10_000, CodeHex: "21", // HALT
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg RegisterTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, 0, reg.Handle)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, uint16(1), list.Tasks[0].ID)
}

func TestRegisterTaskRejectsBadHex(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", RegisterTaskRequest{ID: 1, IntervalUS: 10_000, CodeHex: "zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/v1/tasks", RegisterTaskRequest{ID: 1, IntervalUS: 10_000, CodeHex: "21"})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/lifecycle/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/lifecycle/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "starting twice must fail")

	rec = doJSON(t, s, http.MethodPost, "/api/v1/lifecycle/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandEndpointDispatchesSetMode(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/command", CommandRequest{
		Name: "set_mode", Args: map[string]interface{}{"mode": "summary"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "set_mode", resp.Cmd)
	assert.Equal(t, "summary", resp.Val)
	assert.Equal(t, debugchan.ModeSummary, s.debug.Mode())
}

func TestCommandEndpointWatchAddRemove(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/command", CommandRequest{
		Name: "watch_add", Args: map[string]interface{}{"addr": float64(0x2000)},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/command", CommandRequest{
		Name: "watch_remove", Args: map[string]interface{}{"addr": float64(0x2000)},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/memory?address=0x2000&length=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint32(0x2000), resp.Address)
	assert.Equal(t, "00000000", resp.DataHex)
}

func TestCORSRejectsRemoteOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code, "CORS rejection only omits the header, it does not block the request")
}

func TestCORSAllowsLocalhost(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

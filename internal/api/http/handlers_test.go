package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func testCapabilities() sandbox.Capabilities {
	return sandbox.Capabilities{
		"core": sandbox.Group{
			"listTables": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return []interface{}{"accounts"}, nil
			},
		},
	}
}

func newTestRouter(t *testing.T, cfg engine.Config) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	eng := engine.New(cfg, testCapabilities(), engine.WithMetrics(metrics))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Close)

	router := gin.New()
	router.Use(monitoring.Middleware(metrics))
	NewHandlers(eng, metrics, "", nil).Register(router)
	return router, eng
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestExecuteEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{HistorySize: 5})

	w := do(router, http.MethodPost, "/v1/execute", `{"code":"console.log('hi'); return (await pg.core.listTables())[0];"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "accounts", body["result"])
	assert.Equal(t, "inprocess", body["mode"])
	assert.Contains(t, body["metrics"], "wallTimeMs")
	assert.Len(t, body["console"], 1)

	execID := body["id"].(string)
	w = do(router, http.MethodGet, "/v1/executions/"+execID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, execID, decode(t, w)["id"])

	w = do(router, http.MethodGet, "/v1/executions?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["executions"], 1)
}

func TestExecuteScriptFailureIsOK(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	w := do(router, http.MethodPost, "/v1/execute", `{"code":"throw new Error('nope');"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "nope", body["error"])
}

func TestExecuteBadRequests(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"code":`},
		{name: "empty code", body: `{"code":""}`},
		{name: "unknown mode", body: `{"code":"return 1;","mode":"container"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/v1/execute", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestExecuteBodyTooLarge(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	var buf bytes.Buffer
	buf.WriteString(`{"code":"`)
	buf.WriteString(strings.Repeat("x", maxBodyBytes))
	buf.WriteString(`"}`)

	w := do(router, http.MethodPost, "/v1/execute", buf.String())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecutePoolExhausted(t *testing.T) {
	router, eng := newTestRouter(t, engine.Config{Pool: sandbox.PoolOptions{MaxInstances: 1}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Execute(context.Background(), engine.Request{Code: "const end = Date.now() + 500; while (Date.now() < end) {}"})
	}()
	require.Eventually(t, func() bool {
		return eng.Stats().Pools[sandbox.ModeInProcess].InUse == 1
	}, time.Second, 5*time.Millisecond)

	w := do(router, http.MethodPost, "/v1/execute", `{"code":"return 1;"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	<-done
}

func TestExecuteAfterClose(t *testing.T) {
	router, eng := newTestRouter(t, engine.Config{})
	eng.Close()

	w := do(router, http.MethodPost, "/v1/execute", `{"code":"return 1;"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetExecutionErrors(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/v1/executions/not-an-id", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/v1/executions/exe_01ARZ3NDEKTSV4RRFFQ69G5FAV", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/v1/executions?limit=0", "").Code)
}

func TestPoolEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{Pool: sandbox.PoolOptions{MinInstances: 1, MaxInstances: 3}})

	w := do(router, http.MethodGet, "/v1/pool", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, sandbox.Stats{Available: 1, InUse: 0, Max: 3}, stats.Pools[sandbox.ModeInProcess])
	assert.Equal(t, 3, stats.Pools[sandbox.ModeIsolated].Max)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	w := do(router, http.MethodGet, "/v1/capabilities", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "pg", body["root"])
	assert.Equal(t, map[string]interface{}{"core": []interface{}{"listTables"}}, body["groups"])

	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "core.listTables", tools[0].(map[string]interface{})["id"])
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, engine.Config{})

	w := do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	do(router, http.MethodPost, "/v1/execute", `{"code":"return 1;"}`)

	w = do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pgexec_executions_total")
	assert.Contains(t, w.Body.String(), "pgexec_http_requests_total")

	w = do(router, http.MethodGet, "/metrics/json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["totalExecutions"])
}

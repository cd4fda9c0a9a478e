package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }

func fullHandlerSet() HandlerSet {
	return HandlerSet{
		ListMemories: ok, CreateMemory: ok, SearchMemories: ok, DeleteMemory: ok, DeleteAllMemories: ok,
		PreviewContext: ok, Respond: ok, GetSystemRules: ok, PutSystemRules: ok,
	}
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestRouter_ReadinessReportsEachDependency(t *testing.T) {
	router := NewRouter(RouterConfig{Checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
		"nats":     nil,
	}}, fullHandlerSet())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health := decodeHealth(t, rec)
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, "healthy", health["database"])
	assert.Equal(t, "unhealthy", health["redis"])
	assert.Equal(t, "not configured", health["nats"])
}

func TestRouter_Liveness(t *testing.T) {
	router := NewRouter(RouterConfig{}, fullHandlerSet())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(RouterConfig{}, fullHandlerSet())
	base := "/api/v1/agents/6f1c1c9e-0000-4000-8000-000000000001/users/6f1c1c9e-0000-4000-8000-000000000002"

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, base + "/memories"},
		{http.MethodPost, base + "/memories"},
		{http.MethodPost, base + "/memories/search"},
		{http.MethodDelete, base + "/memories"},
		{http.MethodDelete, base + "/memories/7"},
		{http.MethodPost, base + "/context"},
		{http.MethodPost, base + "/respond"},
		{http.MethodGet, "/api/v1/settings/behavior-rules"},
		{http.MethodPut, "/api/v1/settings/behavior-rules"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_RateLimiterGuardsAPI(t *testing.T) {
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := NewRouter(RouterConfig{RateLimiter: blocked}, fullHandlerSet())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings/behavior-rules", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

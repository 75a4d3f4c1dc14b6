package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unlocker/internal/config"
	"unlocker/internal/identity"
	"unlocker/internal/resolver"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Concurrency: 1, TaskTimeout: 1, RequestTimeout: 1, ServerPort: "0"}
	core := resolver.New(cfg, identity.NewManager(nil), nil, nil, nil, nil)
	// The orchestrator is deliberately not started: submissions sit in the
	// queue, which is all these handler tests need.
	o := resolver.NewOrchestrator(cfg, core, nil, nil, nil)
	return NewServer(cfg, o, nil, nil, zap.NewNop())
}

func TestResolveEndpointAcceptsURLs(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/resolve",
		strings.NewReader(`{"urls": ["https://gate.example/l/abc"]}`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp resolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accepted, 1)
	assert.Equal(t, "https://gate.example/l/abc", resp.Accepted[0].SourceURL)
	assert.NotEmpty(t, resp.Accepted[0].ID)
}

func TestResolveEndpointRejectsEmptyList(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"urls": []}`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpointRejectsInvalidURL(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"urls": ["::not-a-url"]}`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpointWithoutStore(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status?url=https://gate.example/l/abc", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthWithStoresDisabled(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "disabled", status["postgres"])
	assert.Equal(t, "disabled", status["redis"])
}

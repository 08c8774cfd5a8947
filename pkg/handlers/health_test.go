package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/config"
)

func newHealthHandler() *HealthHandler {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	return NewHealthHandler(cfg, nil, zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	h := newHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPingEndpoint(t *testing.T) {
	h := newHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	h.Ping(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "test-version", response.Version)
	assert.Equal(t, "stratum-engine", response.Service)
	assert.Equal(t, "test", response.Environment)
	assert.NotEmpty(t, response.GoVersion)
}

func TestStatusEndpointListsRegisteredTypes(t *testing.T) {
	h := newHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Nil(t, response.Pools)

	// The registry always carries the fail-closed stubs, so the type list
	// is never empty and unavailable entries name their client library.
	require.NotEmpty(t, response.Types)
	for _, ts := range response.Types {
		if !ts.Available {
			assert.NotEmpty(t, ts.Coordinate, ts.Type)
		}
	}
}

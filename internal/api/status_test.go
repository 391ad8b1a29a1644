package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
)

func TestStatusEndpoint(t *testing.T) {
	gw := &fakeGatewayAdmin{
		connected: 1,
		states: []gateway.State{
			{Name: "couchbase", Status: gateway.StatusConnected, ToolCount: 2},
			{Name: "postgres", Status: gateway.StatusFailed, LastError: "connection refused"},
		},
		descriptors: []gateway.Descriptor{
			{Name: "run_query", Description: "Run a SQL++ query", Server: "couchbase"},
			{Name: "list_indexes", Server: "couchbase"},
		},
	}
	srv, _ := newTestServer(t, &fakeResponder{}, gw)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "googleai/gemini-2.5-flash", resp.Model)
	require.Len(t, resp.Servers, 2)
	assert.Equal(t, gateway.StatusConnected, resp.Servers[0].Status)
	assert.Equal(t, "connection refused", resp.Servers[1].LastError)
	require.Len(t, resp.Tools, 2)
	assert.Equal(t, "run_query", resp.Tools[0].Name)
}

func TestResetEndpoint(t *testing.T) {
	gw := &fakeGatewayAdmin{connected: 1}
	reloaded := false

	srv := NewServer(ServerConfig{
		Responder: &fakeResponder{},
		Gateway:   gw,
		Store:     nil,
		Status: StatusInfo{
			Provider: "gemini",
			Model:    "googleai/gemini-2.5-flash",
			OnReset:  func() { reloaded = true },
		},
		Logger: log.NewNop(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gw.resets)
	assert.True(t, reloaded, "dependents must be told about the rediscovered tool set")
}

func TestResetEndpointFailure(t *testing.T) {
	gw := &fakeGatewayAdmin{resetErr: errors.New("all servers down")}
	srv, _ := newTestServer(t, &fakeResponder{}, gw)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RESET_FAILED", resp.Error)
}

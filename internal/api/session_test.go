package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshoval/dbagent/internal/session"
)

func TestSessionCreateListGetDelete(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResponder{}, &fakeGatewayAdmin{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/sessions", `{"title":"french hotels"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "french hotels", created.Title)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Sessions []session.Session `json:"sessions"`
		Total    int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Total)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionCreateDefaultsTitle(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResponder{}, &fakeGatewayAdmin{})
	rec := postJSON(t, srv.Handler(), "/api/sessions", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "New Session", created.Title)
}

func TestSessionCreateRejectsLongTitle(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResponder{}, &fakeGatewayAdmin{})
	body := fmt.Sprintf(`{"title":%q}`, strings.Repeat("x", MaxTitleLength+1))
	rec := postJSON(t, srv.Handler(), "/api/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionGetRejectsBadID(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResponder{}, &fakeGatewayAdmin{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionListPaginationParams(t *testing.T) {
	srv, store := newTestServer(t, &fakeResponder{}, &fakeGatewayAdmin{})
	ctx := context.Background()
	for range 5 {
		_, err := store.CreateSession(ctx, "s")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=2&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Sessions []session.Session `json:"sessions"`
		Limit    int               `json:"limit"`
		Offset   int               `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Sessions, 2)
	assert.Equal(t, 2, listResp.Limit)
	assert.Equal(t, 1, listResp.Offset)
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing", "", 100},
		{"valid", "limit=50", 50},
		{"not a number", "limit=abc", 100},
		{"below minimum", "limit=0", 1},
		{"above maximum", "limit=99999", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/sessions?"+tt.query, nil)
			assert.Equal(t, tt.want, parseIntParam(r, "limit", 100, 1, 1000))
		})
	}
}

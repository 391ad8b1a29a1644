package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

// Session validation constants.
const (
	MaxTitleLength   = 100
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxListOffset    = 100000
)

// SessionHandler handles session-related HTTP endpoints.
type SessionHandler struct {
	store  session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// list returns sessions ordered by recency.
// Query parameters:
//   - limit: maximum number of sessions to return (default: 100, max: 1000)
//   - offset: number of sessions to skip (default: 0)
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// create creates a new session.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "TITLE_TOO_LONG", "title too long (max 100 characters)")
		return
	}
	if req.Title == "" {
		req.Title = "New Session"
	}

	sess, err := h.store.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// get returns one session by ID.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get session", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "GET_FAILED", "failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// delete removes a session and its messages.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSessionID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete session", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "DELETE_FAILED", "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathSessionID parses the {id} path value, writing a 400 on failure.
func pathSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

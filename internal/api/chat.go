package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/eshoval/dbagent/internal/agent"
	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

// MaxQueryLength bounds the question size.
const MaxQueryLength = 10000

// Responder is the slice of the agent the chat endpoints need.
type Responder interface {
	RespondStream(ctx context.Context, history []*ai.Message, input string, notify agent.Notifier) (*agent.Result, error)
}

// ChatHandler handles question answering endpoints.
//
// Endpoints:
//   - POST /api/chat        - synchronous (JSON request/response)
//   - POST /api/chat/stream - streaming (SSE)
type ChatHandler struct {
	responder Responder
	store     session.Store
	logger    log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(responder Responder, store session.Store, logger log.Logger) *ChatHandler {
	return &ChatHandler{responder: responder, store: store, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
}

// ChatRequest is the request body for both chat endpoints.
// An empty sessionId starts a new conversation.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

// ChatResponse is the POST /api/chat payload.
type ChatResponse struct {
	Response   string `json:"response"`
	SessionID  string `json:"sessionId"`
	Rounds     int    `json:"rounds"`
	ToolCalls  int    `json:"toolCalls"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

// handleChat answers a question synchronously.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	sess, history, errCode, status := h.prepare(r.Context(), req)
	if errCode != "" {
		writeError(w, status, errCode, errCode)
		return
	}

	result, err := h.responder.RespondStream(r.Context(), history, req.Query, nil)
	h.persist(r.Context(), sess.ID, result)
	if err != nil {
		code, status := classifyAgentError(err)
		if code == "" {
			return // client gone
		}
		h.logger.Error("chat failed", "sessionId", sess.ID, "error", err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:   result.Answer,
		SessionID:  sess.ID.String(),
		Rounds:     result.Rounds,
		ToolCalls:  result.ToolCalls,
		Incomplete: result.Incomplete,
	})
}

// SSE event payloads.
type (
	// SSEToolData is the data for "tool" events.
	SSEToolData struct {
		Name   string `json:"name"`
		Status string `json:"status"` // running | done | error
		Error  string `json:"error,omitempty"`
	}

	// SSEDoneData is the data for "done" events.
	SSEDoneData struct {
		Response   string `json:"response"`
		SessionID  string `json:"sessionId"`
		Rounds     int    `json:"rounds"`
		Incomplete bool   `json:"incomplete,omitempty"`
	}

	// SSEErrorData is the data for "error" events.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// handleStream answers a question over Server-Sent Events.
//
// Event types:
//   - tool:  a query tool started or finished {"name", "status", "error"}
//   - done:  final answer {"response", "sessionId", "rounds"}
//   - error: terminal failure {"code", "message"}
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	sess, history, errCode, _ := h.prepare(r.Context(), req)
	if errCode != "" {
		h.writeSSEError(w, flusher, errCode, errCode)
		return
	}

	h.logger.Info("SSE stream started", "sessionId", sess.ID)

	notify := func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventToolCall:
			h.writeSSEEvent(w, flusher, "tool", SSEToolData{Name: ev.Tool, Status: "running"})
		case agent.EventToolResult:
			status := "done"
			if ev.Err != "" {
				status = "error"
			}
			h.writeSSEEvent(w, flusher, "tool", SSEToolData{Name: ev.Tool, Status: status, Error: ev.Err})
		}
	}

	result, err := h.responder.RespondStream(r.Context(), history, req.Query, notify)
	h.persist(r.Context(), sess.ID, result)
	if err != nil {
		code, _ := classifyAgentError(err)
		if code == "" {
			h.logger.Info("client disconnected", "sessionId", sess.ID)
			return
		}
		h.logger.Error("stream failed", "sessionId", sess.ID, "error", err)
		h.writeSSEError(w, flusher, code, err.Error())
		return
	}

	h.writeSSEEvent(w, flusher, "done", SSEDoneData{
		Response:   result.Answer,
		SessionID:  sess.ID.String(),
		Rounds:     result.Rounds,
		Incomplete: result.Incomplete,
	})
	h.logger.Info("SSE stream completed",
		"sessionId", sess.ID,
		"rounds", result.Rounds,
		"responseLen", len(result.Answer))
}

// prepare validates the request and resolves the session and its history.
// A missing sessionId starts a new session titled after the question.
func (h *ChatHandler) prepare(ctx context.Context, req ChatRequest) (*session.Session, []*ai.Message, string, int) {
	if req.Query == "" {
		return nil, nil, "MISSING_QUERY", http.StatusBadRequest
	}
	if len(req.Query) > MaxQueryLength {
		return nil, nil, "QUERY_TOO_LONG", http.StatusBadRequest
	}

	if req.SessionID == "" {
		sess, err := h.store.CreateSession(ctx, sessionTitle(req.Query))
		if err != nil {
			h.logger.Error("failed to create session", "error", err)
			return nil, nil, "SESSION_CREATE_FAILED", http.StatusInternalServerError
		}
		return sess, nil, "", 0
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, nil, "INVALID_SESSION_ID", http.StatusBadRequest
	}
	sess, err := h.store.GetSession(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, "SESSION_NOT_FOUND", http.StatusNotFound
	}
	if err != nil {
		h.logger.Error("failed to load session", "id", id, "error", err)
		return nil, nil, "SESSION_LOAD_FAILED", http.StatusInternalServerError
	}

	history, err := h.store.History(ctx, id)
	if err != nil {
		h.logger.Error("failed to load history", "id", id, "error", err)
		return nil, nil, "HISTORY_LOAD_FAILED", http.StatusInternalServerError
	}
	return sess, history, "", 0
}

// persist stores the exchange's turns. Runs detached from the request
// context: a disconnecting client must not lose recorded turns, which on
// terminal errors are the evidence of what happened.
func (h *ChatHandler) persist(ctx context.Context, sessionID uuid.UUID, result *agent.Result) {
	if result == nil || len(result.Messages) == 0 {
		return
	}
	if err := h.store.AppendMessages(context.WithoutCancel(ctx), sessionID, result.Messages); err != nil {
		h.logger.Error("failed to persist conversation turns",
			"sessionId", sessionID, "error", err)
	}
}

// classifyAgentError maps terminal agent errors to response codes.
// An empty code means the client went away and no response is owed.
func classifyAgentError(err error) (code string, status int) {
	var unknownTool *agent.UnknownToolError
	switch {
	case errors.Is(err, context.Canceled):
		return "", 0
	case errors.As(err, &unknownTool):
		return "UNKNOWN_TOOL", http.StatusBadGateway
	case errors.Is(err, agent.ErrModelUnavailable):
		return "MODEL_UNAVAILABLE", http.StatusServiceUnavailable
	default:
		return "AGENT_ERROR", http.StatusInternalServerError
	}
}

// sessionTitle derives a session title from the first question.
// Truncation counts runes, not bytes; a split rune would be invalid
// UTF-8 and the postgres store rejects that.
func sessionTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= MaxTitleLength {
		return query
	}
	return string(runes[:MaxTitleLength-1]) + "…"
}

func (h *ChatHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	h.writeSSEEvent(w, flusher, "error", SSEErrorData{Code: code, Message: message})
}

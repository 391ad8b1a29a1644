package api

import (
	"context"
	"net/http"

	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
)

// GatewayAdmin is the slice of the query tool gateway the API needs for
// status reporting and resets.
type GatewayAdmin interface {
	States() []gateway.State
	Descriptors() []gateway.Descriptor
	ConnectedCount() int
	Reset(ctx context.Context) error
}

// StatusInfo carries static deployment facts shown on the status page.
type StatusInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// OnReset is invoked after a successful gateway reset, so dependents
	// can pick up the rediscovered tool set. May be nil.
	OnReset func() `json:"-"`
}

// StatusHandler reports query server state and handles resets.
type StatusHandler struct {
	gateway GatewayAdmin
	info    StatusInfo
	logger  log.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(gateway GatewayAdmin, info StatusInfo, logger log.Logger) *StatusHandler {
	return &StatusHandler{gateway: gateway, info: info, logger: logger}
}

// RegisterRoutes registers status routes on the given mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/reset", h.reset)
}

// ToolInfo is one discovered tool in the status response.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Server      string `json:"server"`
}

// StatusResponse is the GET /api/status payload.
type StatusResponse struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Servers  []gateway.State `json:"servers"`
	Tools    []ToolInfo      `json:"tools"`
}

// status reports the provider, model, per-server connection state and
// the discovered tool set.
func (h *StatusHandler) status(w http.ResponseWriter, _ *http.Request) {
	descriptors := h.gateway.Descriptors()
	tools := make([]ToolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, ToolInfo{Name: d.Name, Description: d.Description, Server: d.Server})
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Provider: h.info.Provider,
		Model:    h.info.Model,
		Servers:  h.gateway.States(),
		Tools:    tools,
	})
}

// reset reconnects every configured query server and rediscovers tools.
func (h *StatusHandler) reset(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("resetting query server connections")

	if err := h.gateway.Reset(r.Context()); err != nil {
		h.logger.Error("gateway reset failed", "error", err)
		writeError(w, http.StatusBadGateway, "RESET_FAILED", err.Error())
		return
	}
	if h.info.OnReset != nil {
		h.info.OnReset()
	}

	h.status(w, r)
}

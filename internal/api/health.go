package api

import (
	"net/http"

	"github.com/eshoval/dbagent/internal/log"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	gateway GatewayAdmin
	logger  log.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(gateway GatewayAdmin, logger log.Logger) *HealthHandler {
	return &HealthHandler{gateway: gateway, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 OK if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 OK once at least one query server is connected;
// without a server the agent cannot answer anything.
func (h *HealthHandler) readiness(w http.ResponseWriter, _ *http.Request) {
	if h.gateway == nil || h.gateway.ConnectedCount() == 0 {
		http.Error(w, "no query server connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

package api

import (
	"embed"
	"net/http"

	"github.com/eshoval/dbagent/internal/log"
)

//go:embed static/index.html
var staticFS embed.FS

// WebHandler serves the embedded chat page.
type WebHandler struct {
	logger log.Logger
}

// NewWebHandler creates a new web handler.
func NewWebHandler(logger log.Logger) *WebHandler {
	return &WebHandler{logger: logger}
}

// RegisterRoutes registers the chat page on the given mux.
func (h *WebHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.index)
}

func (h *WebHandler) index(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		h.logger.Error("embedded chat page missing", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

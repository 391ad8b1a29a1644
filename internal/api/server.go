// Package api exposes the database agent over HTTP.
//
// Endpoints:
//
//	GET  /                    →  embedded chat page
//	GET  /health              →  liveness probe
//	GET  /ready               →  readiness probe
//	GET  /api/status          →  provider, model and query server states
//	POST /api/reset           →  reconnect query servers, rediscover tools
//	GET  /api/sessions        →  list sessions
//	POST /api/sessions        →  create session
//	GET  /api/sessions/{id}   →  session detail
//	DELETE /api/sessions/{id} →  delete session
//	POST /api/chat            →  ask a question (JSON)
//	POST /api/chat/stream     →  ask a question (SSE: tool, done, error)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - status.go: gateway status and reset endpoints
//   - session.go: session management endpoints
//   - chat.go: question answering endpoints
//   - web.go: embedded chat page
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Agent calls can run several query rounds, so this is generous.
	WriteTimeout = 300 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig carries the handlers' dependencies.
type ServerConfig struct {
	Responder Responder
	Gateway   GatewayAdmin
	Store     session.Store
	Status    StatusInfo
	Logger    log.Logger
}

// Server is the HTTP server for the agent's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	status  *StatusHandler
	session *SessionHandler
	chat    *ChatHandler
	web     *WebHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  cfg.Logger,
		health:  NewHealthHandler(cfg.Gateway, cfg.Logger),
		status:  NewStatusHandler(cfg.Gateway, cfg.Status, cfg.Logger),
		session: NewSessionHandler(cfg.Store, cfg.Logger),
		chat:    NewChatHandler(cfg.Responder, cfg.Store, cfg.Logger),
		web:     NewWebHandler(cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.status.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.web.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then logging, then the handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, panicRecovery(s.logger), requestLogging(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

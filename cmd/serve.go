package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eshoval/dbagent/internal/api"
	"github.com/eshoval/dbagent/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and chat page",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting dbagent", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv := api.NewServer(api.ServerConfig{
		Responder: a.Agent,
		Gateway:   a.Gateway,
		Store:     a.Store,
		Status: api.StatusInfo{
			Provider: cfg.Provider,
			Model:    cfg.FullModelName(),
			OnReset:  a.Agent.ReloadTools,
		},
		Logger: logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.Addr
	}
	logger.Info("HTTP server ready",
		"addr", addr,
		"chat", "/",
		"api", "/api/*",
		"health", "/health, /ready",
	)
	return srv.Run(ctx, addr)
}

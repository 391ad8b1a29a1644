// Package app wires the application together: configuration, tracing,
// Genkit, the query tool gateway, session storage and the agent.
package app

import (
	"errors"

	"github.com/firebase/genkit/go/genkit"

	"github.com/eshoval/dbagent/internal/agent"
	"github.com/eshoval/dbagent/internal/config"
	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit  *genkit.Genkit
	Gateway *gateway.Client
	Agent   *agent.Agent
	Store   session.Store

	otelCleanup func()
}

// Close releases all resources in reverse construction order.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Gateway != nil {
		if err := a.Gateway.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return errors.Join(errs...)
}

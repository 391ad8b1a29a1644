package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/eshoval/dbagent/db"
	"github.com/eshoval/dbagent/internal/agent"
	"github.com/eshoval/dbagent/internal/config"
	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	gw, err := provideGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Gateway = gw

	store, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	ag, err := provideAgent(cfg, g, gw, logger)
	if err != nil {
		return nil, err
	}
	a.Agent = ag

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization, so spans from the first request are captured.
// Disabled unless an endpoint is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Otel.Enabled() {
		return func() {}
	}

	// Set OTEL env vars for Genkit's TracerProvider to pick up.
	// os.Setenv is not concurrent-safe, but Setup runs once at startup
	// before any goroutines are spawned.
	if cfg.Otel.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)
	}
	if cfg.Otel.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Otel.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Otel.Endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Otel.Endpoint,
		"service", cfg.Otel.ServiceName,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideGateway connects to every active query server and discovers
// its tools.
func provideGateway(ctx context.Context, cfg *config.Config, logger log.Logger) (*gateway.Client, error) {
	active := cfg.ActiveServers()
	configs := make([]gateway.ServerConfig, 0, len(active))
	for name, server := range active {
		configs = append(configs, gateway.ServerConfig{
			Name:     name,
			Endpoint: server.URL,
		})
	}

	gw := gateway.New(configs, logger)
	if err := gw.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to query servers: %w", err)
	}
	return gw, nil
}

// provideStore creates the configured session store. For postgres,
// migrations run first and the pool is verified with a ping.
func provideStore(ctx context.Context, cfg *config.Config, logger log.Logger) (session.Store, error) {
	if cfg.Storage != config.StoragePostgres {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(logger), nil
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("using postgres session store",
		"host", cfg.PostgresHost, "database", cfg.PostgresDBName)
	return session.NewPostgresStore(pool, logger), nil
}

// provideAgent assembles the agent: system prompt, registered gateway
// tools and the guarded model caller.
func provideAgent(cfg *config.Config, g *genkit.Genkit, gw *gateway.Client, logger log.Logger) (*agent.Agent, error) {
	systemPrompt, err := agent.BuildSystemPrompt(cfg.PromptDir, cfg.Couchbase.Active, cfg.Couchbase.Bucket)
	if err != nil {
		return nil, fmt.Errorf("building system prompt: %w", err)
	}

	tools := agent.RegisterGatewayTools(g, gw, logger)

	model := agent.NewGenkitModel(g, agent.GenkitModelConfig{
		ModelName:    cfg.FullModelName(),
		SystemPrompt: systemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Tools:        tools,
	})

	return agent.New(agent.Config{
		Model:       model,
		Gateway:     gw,
		Logger:      logger,
		MaxRounds:   cfg.MaxRounds,
		ToolTimeout: cfg.ToolTimeout(),
	})
}

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q is not supported (expected %q, %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama, ProviderOpenAI)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 3. Agent loop validation
	if c.MaxRounds < 1 || c.MaxRounds > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}

	if c.ToolTimeoutSeconds < 1 || c.ToolTimeoutSeconds > 3600 {
		return fmt.Errorf("%w: must be between 1 and 3600 seconds, got %d", ErrInvalidToolTimeout, c.ToolTimeoutSeconds)
	}

	// 4. Gateway validation: at least one query tool server must be active,
	// and every active server needs a well-formed URL.
	active := c.ActiveServers()
	if len(active) == 0 {
		return fmt.Errorf("%w: activate at least one of couchbase (CB_MCP_ACTIVE) or postgres (PG_MCP_ACTIVE)",
			ErrNoActiveServers)
	}
	for name, srv := range active {
		if err := validateServerURL(srv.URL); err != nil {
			return fmt.Errorf("%w: server %q: %v", ErrInvalidServerURL, name, err)
		}
	}

	// 5. Session storage validation
	switch c.Storage {
	case StorageMemory:
		return nil // No further checks; PostgreSQL settings are unused.
	case StoragePostgres:
	default:
		return fmt.Errorf("%w: %q is not supported (expected %q or %q)",
			ErrInvalidStorage, c.Storage, StorageMemory, StoragePostgres)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}

	if c.PostgresPassword == "dbagent_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// validateServerURL checks that an MCP server endpoint is a usable http(s) URL.
func validateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

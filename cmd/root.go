// Package cmd contains the dbagent CLI commands.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eshoval/dbagent/internal/config"
	"github.com/eshoval/dbagent/internal/log"
)

var (
	debugFlag    bool
	jsonLogsFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "dbagent",
	Short: "dbagent - ask your databases questions in plain language",
	Long: `dbagent answers natural-language questions about your data.

It connects to MCP query tool servers (Couchbase, PostgreSQL), lets a
language model plan the queries, runs them through the discovered tools
and turns the results into a plain answer.

Run "dbagent serve" to start the HTTP API and chat page, or
"dbagent ask" for a one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogsFlag, "json-logs", false, "write logs as JSON")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugFlag {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: jsonLogsFlag})
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eshoval/dbagent/internal/app"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the query tools discovered on the connected servers",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	for _, state := range a.Gateway.States() {
		fmt.Printf("%s: %s", state.Name, state.Status)
		if state.LastError != "" {
			fmt.Printf(" (%s)", state.LastError)
		}
		fmt.Println()

		for _, d := range a.Gateway.Descriptors() {
			if d.Server != state.Name {
				continue
			}
			if d.Description != "" {
				fmt.Printf("  %-24s %s\n", d.Name, d.Description)
			} else {
				fmt.Printf("  %s\n", d.Name)
			}
		}
	}
	return nil
}

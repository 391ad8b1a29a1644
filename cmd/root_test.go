package cmd

import (
	"log/slog"
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"serve", "ask", "tools", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestNewLoggerRespectsDebugFlag(t *testing.T) {
	debugFlag = false
	t.Cleanup(func() { debugFlag = false })

	logger := newLogger()
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug enabled without --debug")
	}

	debugFlag = true
	logger = newLogger()
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug not enabled with --debug")
	}
}

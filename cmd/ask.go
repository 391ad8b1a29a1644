package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eshoval/dbagent/internal/agent"
	"github.com/eshoval/dbagent/internal/app"
	"github.com/eshoval/dbagent/internal/log"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question about your data",
	Long: `Ask sends a single question through the agent and prints the answer.

With --session, the conversation continues from a stored session and the
exchange is persisted to it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "continue a stored session (UUID)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
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

	question := strings.Join(args, " ")

	var history []*ai.Message
	var sessionID uuid.UUID
	if askSessionID != "" {
		sessionID, err = uuid.Parse(askSessionID)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", askSessionID, err)
		}
		history, err = a.Store.History(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
	}

	// Show query progress on stderr; the answer alone goes to stdout.
	notify := func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventToolCall:
			fmt.Fprintf(os.Stderr, "⚙ %s…\n", ev.Tool)
		case agent.EventToolResult:
			if ev.Err != "" {
				fmt.Fprintf(os.Stderr, "⚠ %s: %s\n", ev.Tool, ev.Err)
			}
		}
	}

	result, err := a.Agent.RespondStream(ctx, history, question, notify)
	persistAsk(ctx, a, sessionID, result, logger)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(result.Answer)
	if result.Incomplete {
		fmt.Fprintln(os.Stderr, "(answer incomplete: query round limit reached)")
	}
	return nil
}

// persistAsk stores the exchange when a session was given.
func persistAsk(ctx context.Context, a *app.App, sessionID uuid.UUID, result *agent.Result, logger log.Logger) {
	if sessionID == uuid.Nil || result == nil || len(result.Messages) == 0 {
		return
	}
	if err := a.Store.AppendMessages(context.WithoutCancel(ctx), sessionID, result.Messages); err != nil {
		logger.Warn("failed to persist exchange", "session", sessionID, "error", err)
	}
}

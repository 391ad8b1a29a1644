// Package agent implements the database question-answering loop.
//
// One call to Respond turns a user question plus conversation history
// into a final answer, driving the model and the query tool gateway in
// bounded rounds. The loop, not the model framework, dispatches tool
// calls: every model turn that requests tools is answered with exactly
// one tool turn carrying a result or error per request, so the
// conversation never holds a dangling call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
)

const (
	// Name is the unique identifier for the database agent.
	Name = "dbagent"

	// Description describes the agent's capabilities.
	Description = "A database expert agent that answers questions using MCP query tools."

	// FallbackResponseMessage is returned when the model produces an empty
	// response with no tool requests.
	FallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	// roundLimitNotice prefixes the best-effort answer produced when the
	// round budget runs out before the model settles on a direct answer.
	roundLimitNotice = "I wasn't able to fully answer within the allowed number of query rounds."

	// DefaultMaxRounds bounds the tool-call rounds per question.
	DefaultMaxRounds = 5

	// DefaultToolTimeout bounds a single gateway call.
	DefaultToolTimeout = 180 * time.Second
)

// ToolGateway is the slice of the query tool gateway the loop needs.
// Defined here, by the consumer, so tests can substitute a fake.
type ToolGateway interface {
	Descriptors() []gateway.Descriptor
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// EventKind identifies a loop progress event.
type EventKind string

const (
	// EventToolCall fires before a gateway call.
	EventToolCall EventKind = "tool_call"
	// EventToolResult fires after a gateway call, success or failure.
	EventToolResult EventKind = "tool_result"
	// EventAnswer fires with the final answer text.
	EventAnswer EventKind = "answer"
)

// Event reports loop progress to streaming front ends.
type Event struct {
	Kind EventKind
	Tool string // Tool name for tool events
	Text string // Answer text for EventAnswer
	Err  string // Failure message for EventToolResult, empty on success
}

// Notifier receives loop progress events. May be nil.
type Notifier func(Event)

// Result is the outcome of one respond call.
type Result struct {
	// Answer is the final answer text.
	Answer string

	// Messages are the turns this exchange appended to the conversation,
	// starting with the user message. On terminal errors it carries the
	// turns recorded up to the failure.
	Messages []*ai.Message

	// Rounds is the number of model calls made.
	Rounds int

	// ToolCalls is the number of tool requests handled.
	ToolCalls int

	// Incomplete is set when the round budget ran out and Answer is a
	// best-effort summary rather than a direct answer.
	Incomplete bool
}

// Config contains all required parameters for the database agent.
type Config struct {
	Model   ModelCaller
	Gateway ToolGateway
	Logger  log.Logger

	MaxRounds   int           // Tool-call rounds per question (default 5)
	ToolTimeout time.Duration // Per gateway call (default 180s)

	// Resilience configuration (zero values use defaults)
	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
	RateLimiter          *rate.Limiter // nil = default 10 rps, burst 30
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Model == nil {
		return errors.New("model caller is required")
	}
	if cfg.Gateway == nil {
		return errors.New("tool gateway is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Agent is the database question-answering agent.
//
// Agent is stateless with respect to conversations: callers pass history
// in and persist the returned turns. All configuration is captured
// immutably at construction for safe concurrent use; only the known tool
// set mutates, guarded by mu, when the gateway is reset.
type Agent struct {
	model       ModelCaller
	gateway     ToolGateway
	logger      log.Logger
	maxRounds   int
	toolTimeout time.Duration

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter

	mu    sync.RWMutex
	known map[string]gateway.Descriptor
}

// New creates a database agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	a := &Agent{
		model:          cfg.Model,
		gateway:        cfg.Gateway,
		logger:         cfg.Logger,
		maxRounds:      maxRounds,
		toolTimeout:    toolTimeout,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
	}
	a.ReloadTools()

	a.logger.Info("database agent initialized",
		"tools", len(a.known),
		"maxRounds", a.maxRounds,
	)
	return a, nil
}

// ReloadTools refreshes the known tool set from the gateway.
// Call after a gateway reset so validation matches the rediscovered tools.
func (a *Agent) ReloadTools() {
	descriptors := a.gateway.Descriptors()
	known := make(map[string]gateway.Descriptor, len(descriptors))
	for _, d := range descriptors {
		known[d.Name] = d
	}

	a.mu.Lock()
	a.known = known
	a.mu.Unlock()
}

// knownTool reports whether the gateway discovered a tool with this name.
func (a *Agent) knownTool(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.known[name]
	return ok
}

// Respond answers a user question given the conversation history.
// Convenience wrapper around RespondStream with no notifier.
func (a *Agent) Respond(ctx context.Context, history []*ai.Message, input string) (*Result, error) {
	return a.RespondStream(ctx, history, input, nil)
}

// RespondStream answers a user question, reporting progress through the
// optional notifier.
//
// The loop runs at most maxRounds model calls. A model turn without tool
// requests is the final answer. Tool requests are validated against the
// discovered tool set and dispatched to the gateway; each request is
// answered by exactly one tool-response part, carrying the result or an
// error payload, before the next model call.
//
// Gateway failures are evidence, not errors: they are fed back to the
// model, which decides whether to retry, switch tools or surface the
// failure. Only an unknown tool or an unreachable model terminate the
// call with an error. An exhausted round budget yields a best-effort
// answer with Incomplete set.
func (a *Agent) RespondStream(ctx context.Context, history []*ai.Message, input string, notify Notifier) (*Result, error) {
	messages := deepCopyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))
	base := len(messages) - 1 // New turns start at the user message.

	result := &Result{}
	lastToolResult := ""

	for round := 1; round <= a.maxRounds; round++ {
		result.Rounds = round

		resp, err := a.generate(ctx, messages)
		if err != nil {
			result.Messages = messages[base:]
			return result, err
		}

		msg := resp.Message
		if msg == nil {
			msg = ai.NewModelMessage(ai.NewTextPart(resp.Text()))
		}
		messages = append(messages, msg)

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			answer := strings.TrimSpace(resp.Text())
			if answer == "" {
				a.logger.Warn("model returned empty response with no tool requests")
				answer = FallbackResponseMessage
			}
			a.notify(notify, Event{Kind: EventAnswer, Text: answer})

			result.Answer = answer
			result.Messages = messages[base:]
			return result, nil
		}

		// Validate every requested name before invoking anything. An
		// unknown name terminates the call; the gateway is not touched,
		// but each pending request still gets its error turn.
		for _, req := range requests {
			if !a.knownTool(req.Name) {
				a.logger.Error("model requested unknown tool",
					"tool", req.Name, "round", round)
				messages = append(messages, unknownToolMessage(requests, req.Name))
				result.Messages = messages[base:]
				return result, &UnknownToolError{Tool: req.Name}
			}
		}

		parts := make([]*ai.Part, 0, len(requests))
		for _, req := range requests {
			result.ToolCalls++
			a.notify(notify, Event{Kind: EventToolCall, Tool: req.Name})

			output, callErr := a.dispatch(ctx, req)
			if callErr != nil {
				a.logger.Warn("query tool call failed",
					"tool", req.Name, "round", round, "error", callErr)
				a.notify(notify, Event{Kind: EventToolResult, Tool: req.Name, Err: callErr.Error()})
				parts = append(parts, errorResponsePart(req, callErr.Error()))
				continue
			}

			lastToolResult = output
			a.notify(notify, Event{Kind: EventToolResult, Tool: req.Name})
			parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    req.Ref,
				Output: output,
			}))
		}
		messages = append(messages, &ai.Message{Role: ai.RoleTool, Content: parts})

		// The tool turn is recorded either way; if the requester is gone
		// the exchange is discarded, not answered.
		if ctx.Err() != nil {
			a.logger.Info("requester gone, discarding exchange", "round", round)
			return nil, ctx.Err()
		}
	}

	a.logger.Warn("round budget exhausted without a direct answer",
		"rounds", a.maxRounds, "toolCalls", result.ToolCalls)

	answer := incompleteAnswer(lastToolResult)
	a.notify(notify, Event{Kind: EventAnswer, Text: answer})

	result.Answer = answer
	result.Incomplete = true
	result.Messages = messages[base:]
	return result, nil
}

// generate runs one guarded model call: circuit breaker, rate limiter
// and retry. Any model failure is terminal and wrapped in
// ErrModelUnavailable so callers surface it without a partial answer.
func (a *Agent) generate(ctx context.Context, messages []*ai.Message) (*ai.ModelResponse, error) {
	if err := a.circuitBreaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker is open, rejecting request",
			"state", a.circuitBreaker.State().String())
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	resp, err := a.generateWithRetry(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			// A requester that went away is not a model failure; the
			// breaker is shared across sessions and only counts real ones.
			return nil, ctx.Err()
		}
		a.circuitBreaker.Failure()
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	a.circuitBreaker.Success()
	return resp, nil
}

// dispatch invokes one validated tool request against the gateway.
//
// The call runs on a context detached from the request so a client
// disconnect cannot abort a query mid-flight on the server; the
// configured timeout still bounds it.
func (a *Agent) dispatch(ctx context.Context, req *ai.ToolRequest) (string, error) {
	args, err := toolArgs(req.Input)
	if err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.toolTimeout)
	defer cancel()

	return a.gateway.Call(callCtx, req.Name, args)
}

// notify forwards an event if a notifier is set.
func (a *Agent) notify(notify Notifier, ev Event) {
	if notify != nil {
		notify(ev)
	}
}

// unknownToolMessage builds the tool turn that answers every pending
// request when one of them names an unknown tool.
func unknownToolMessage(requests []*ai.ToolRequest, unknown string) *ai.Message {
	parts := make([]*ai.Part, 0, len(requests))
	for _, req := range requests {
		msg := "not executed: aborted after unknown tool request"
		if req.Name == unknown {
			msg = fmt.Sprintf("unknown tool %q: not in the discovered tool set", unknown)
		}
		parts = append(parts, errorResponsePart(req, msg))
	}
	return &ai.Message{Role: ai.RoleTool, Content: parts}
}

// errorResponsePart builds a tool-response part carrying an error payload.
func errorResponsePart(req *ai.ToolRequest, msg string) *ai.Part {
	return ai.NewToolResponsePart(&ai.ToolResponse{
		Name:   req.Name,
		Ref:    req.Ref,
		Output: map[string]any{"error": msg},
	})
}

// incompleteAnswer builds the best-effort answer for an exhausted round
// budget, summarizing the most recent tool data when there is any.
func incompleteAnswer(lastToolResult string) string {
	if lastToolResult == "" {
		return roundLimitNotice
	}
	return roundLimitNotice + " The most recent data retrieved was: " + truncate(lastToolResult, 500)
}

// truncate shortens s to roughly n bytes for display, backing up to the
// nearest rune boundary so the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// deepCopyMessages creates independent copies of Message and Part structs.
// The model framework renders message content in place, so concurrent
// executions must never share message objects with stored history.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart creates an independent copy of an ai.Part struct.
// ToolRequest.Input and ToolResponse.Output are copied by reference;
// tool payloads are JSON-shaped values the loop never mutates.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	return cp
}

// shallowCopyMap copies map keys and values but not nested structures.
func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

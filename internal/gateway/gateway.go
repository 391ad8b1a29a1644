// Package gateway connects to the external MCP query tool servers and
// exposes the two operations the agent loop needs: tool discovery and
// tool invocation.
//
// The gateway speaks to one or more servers (Couchbase MCP, PostgreSQL
// MCP) through the official MCP SDK. Tools are discovered once per
// connect and routed by name; per-server connection state is tracked
// for the status surface. A server that fails to connect degrades
// gracefully as long as at least one other server is up.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/eshoval/dbagent/internal/log"
)

var (
	// ErrNotConnected indicates no query tool server connection is available.
	ErrNotConnected = errors.New("gateway is not connected")

	// ErrToolNotRouted indicates a call for a tool no connected server provides.
	ErrToolNotRouted = errors.New("tool not provided by any connected server")
)

// Descriptor describes one discovered query tool.
// Schema carries the tool's JSON input schema verbatim from the server.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Server      string          `json:"server"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ServerConfig identifies one query tool server to connect to.
type ServerConfig struct {
	Name     string
	Endpoint string
}

// transportBuilder is overridden in tests to stub the transport factory.
var transportBuilder = buildTransport

// buildTransport selects the MCP transport for an endpoint.
// Endpoints ending in /sse use the SSE transport; everything else uses
// the streamable HTTP transport.
func buildTransport(endpoint string) (mcpsdk.Transport, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}
	if strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/sse") {
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}
	return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
}

// Client is the query tool gateway.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	configs []ServerConfig
	logger  log.Logger

	mu          sync.RWMutex
	sessions    map[string]*mcpsdk.ClientSession
	routes      map[string]string // tool name -> server name
	descriptors []Descriptor
	states      map[string]*State
}

// New creates a gateway client for the given servers.
// Call Connect before using Descriptors or Call.
func New(configs []ServerConfig, logger log.Logger) *Client {
	states := make(map[string]*State, len(configs))
	for _, cfg := range configs {
		states[cfg.Name] = &State{Name: cfg.Name, Status: StatusDisconnected}
	}
	return &Client{
		configs:  configs,
		logger:   logger,
		sessions: make(map[string]*mcpsdk.ClientSession),
		routes:   make(map[string]string),
		states:   states,
	}
}

// Connect dials every configured server and discovers its tools.
// Individual server failures are tolerated and recorded in state;
// Connect fails only when no server could be reached.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	connected := 0

	for _, cfg := range c.configs {
		state := c.states[cfg.Name]
		state.Status = StatusConnecting
		state.LastAttempt = time.Now()

		if err := c.connectServer(ctx, cfg); err != nil {
			state.Status = StatusFailed
			state.LastError = err.Error()
			state.FailureCount++
			lastErr = err
			c.logger.Warn("query tool server connection failed",
				"server", cfg.Name, "endpoint", cfg.Endpoint, "error", err)
			continue
		}

		state.Status = StatusConnected
		state.LastError = ""
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("no query tool server reachable: %w", lastErr)
	}

	c.logger.Info("gateway connected",
		"servers", connected,
		"tools", len(c.descriptors))
	return nil
}

// connectServer dials one server and merges its tools into the routing
// table. Caller holds c.mu.
func (c *Client) connectServer(ctx context.Context, cfg ServerConfig) error {
	transport, err := transportBuilder(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "dbagent", Version: "1.0.0"}, nil)
	session, err := impl.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	count := 0
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("listing tools: %w", err)
		}
		if owner, exists := c.routes[tool.Name]; exists {
			// First server wins; duplicates across servers are configuration smells.
			c.logger.Warn("duplicate tool name, keeping first",
				"tool", tool.Name, "kept", owner, "ignored", cfg.Name)
			continue
		}

		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			c.logger.Warn("tool schema not serializable, registering without schema",
				"tool", tool.Name, "server", cfg.Name, "error", err)
			schema = nil
		}

		c.routes[tool.Name] = cfg.Name
		c.descriptors = append(c.descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Server:      cfg.Name,
			Schema:      schema,
		})
		count++
	}

	c.sessions[cfg.Name] = session
	c.states[cfg.Name].ToolCount = count
	c.logger.Info("query tool server connected",
		"server", cfg.Name, "tools", count)
	return nil
}

// Descriptors returns the discovered tool set.
// The returned slice is a copy; discovery happens only at Connect/Reset.
func (c *Client) Descriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

// Lookup returns the descriptor for a tool name.
func (c *Client) Lookup(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Call invokes a discovered tool and returns the text of its result.
// A result the server marks as an error is returned as a Go error so
// the caller can feed it back to the model as evidence.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	server, ok := c.routes[name]
	session := c.sessions[server]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolNotRouted, name)
	}
	if session == nil {
		return "", ErrNotConnected
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		c.recordCall(server, false)
		return "", fmt.Errorf("calling tool %q on %q: %w", name, server, err)
	}

	text := resultText(result)
	if result.IsError {
		c.recordCall(server, false)
		if text == "" {
			text = "tool reported an error with no message"
		}
		return "", fmt.Errorf("tool %q failed: %s", name, text)
	}

	c.recordCall(server, true)
	return text, nil
}

// recordCall updates per-server call counters.
func (c *Client) recordCall(server string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, exists := c.states[server]
	if !exists {
		return
	}
	if ok {
		state.SuccessCount++
	} else {
		state.FailureCount++
	}
}

// States returns copies of the per-server connection states, in the
// configured server order.
func (c *Client) States() []State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]State, 0, len(c.states))
	for _, cfg := range c.configs {
		if state, ok := c.states[cfg.Name]; ok {
			result = append(result, *state)
		}
	}
	return result
}

// ConnectedCount returns the number of currently connected servers.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, state := range c.states {
		if state.Status == StatusConnected {
			count++
		}
	}
	return count
}

// Reset closes all sessions and reconnects, rediscovering the tool set.
// Used by the agent reset operation to pick up server-side changes
// without restarting the process.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	for name, session := range c.sessions {
		if err := session.Close(); err != nil {
			c.logger.Debug("closing session during reset", "server", name, "error", err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.routes = make(map[string]string)
	c.descriptors = nil
	for _, state := range c.states {
		state.Status = StatusDisconnected
		state.ToolCount = 0
	}
	c.mu.Unlock()

	return c.Connect(ctx)
}

// Close shuts down all server sessions.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
		c.states[name].Status = StatusDisconnected
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	return errors.Join(errs...)
}

// resultText flattens a tool result into plain text.
// Non-text content is ignored; the query tools only return text payloads.
func resultText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

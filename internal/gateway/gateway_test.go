package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/eshoval/dbagent/internal/log"
)

// startTestServer runs an in-process MCP server over in-memory transports
// and returns the client-side transport.
func startTestServer(t *testing.T, register func(*mcpsdk.Server)) mcpsdk.Transport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-mcp", Version: "test"}, nil)
	register(server)

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return
		}
		<-ctx.Done()
		_ = session.Close()
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return clientTransport
}

// registerQueryTools registers a run_query tool that answers the
// hotel-count question and a failing tool for error paths.
func registerQueryTools(server *mcpsdk.Server) {
	server.AddTool(&mcpsdk.Tool{
		Name:        "run_query",
		Description: "Run a SQL++ query against the travel-sample bucket",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var payload map[string]string
		if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(payload["query"]), "hotel") {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `{"count": 42}`}},
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `[]`}},
		}, nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "broken_query",
		Description: "Always fails",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "syntax error near SELECT"}},
		}, nil
	})
}

// registerSchemaTool registers a single schema listing tool, used as the
// second server in multi-server tests.
func registerSchemaTool(server *mcpsdk.Server) {
	server.AddTool(&mcpsdk.Tool{
		Name:        "list_tables",
		Description: "List tables in the database",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "hotels, airlines"}},
		}, nil
	})
}

// stubTransports routes endpoint specs to freshly started test servers.
// Each Connect gets a new in-memory pair, so Reset can reconnect.
func stubTransports(t *testing.T, servers map[string]func(*mcpsdk.Server)) {
	t.Helper()
	original := transportBuilder
	transportBuilder = func(endpoint string) (mcpsdk.Transport, error) {
		register, ok := servers[endpoint]
		if !ok {
			return nil, fmt.Errorf("unreachable endpoint %q", endpoint)
		}
		return startTestServer(t, register), nil
	}
	t.Cleanup(func() { transportBuilder = original })
}

// stateFor finds one server's state in the client's state list.
func stateFor(t *testing.T, client *Client, name string) State {
	t.Helper()
	for _, state := range client.States() {
		if state.Name == name {
			return state
		}
	}
	t.Fatalf("no state for server %q", name)
	return State{}
}

func TestConnectDiscoversTools(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
		"postgres-endpoint":  registerSchemaTool,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
		{Name: "postgres", Endpoint: "postgres-endpoint"},
	}, log.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	descriptors := client.Descriptors()
	if len(descriptors) != 3 {
		t.Fatalf("expected 3 tools, got %d: %+v", len(descriptors), descriptors)
	}

	d, ok := client.Lookup("run_query")
	if !ok {
		t.Fatal("run_query not discovered")
	}
	if d.Server != "couchbase" {
		t.Errorf("run_query routed to %q, want couchbase", d.Server)
	}
	var schema map[string]any
	if err := json.Unmarshal(d.Schema, &schema); err != nil {
		t.Fatalf("schema should be valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("unexpected schema: %+v", schema)
	}

	couchbase := stateFor(t, client, "couchbase")
	if couchbase.Status != StatusConnected || couchbase.ToolCount != 2 {
		t.Errorf("unexpected couchbase state: %+v", couchbase)
	}
	postgres := stateFor(t, client, "postgres")
	if postgres.Status != StatusConnected || postgres.ToolCount != 1 {
		t.Errorf("unexpected postgres state: %+v", postgres)
	}
	if client.ConnectedCount() != 2 {
		t.Errorf("ConnectedCount() = %d, want 2", client.ConnectedCount())
	}
}

func TestConnectPartialFailure(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
		{Name: "postgres", Endpoint: "down-endpoint"},
	}, log.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect should tolerate one failed server: %v", err)
	}
	defer client.Close()

	postgres := stateFor(t, client, "postgres")
	if postgres.Status != StatusFailed {
		t.Errorf("postgres status = %v, want failed", postgres.Status)
	}
	if postgres.LastError == "" {
		t.Error("failed server should record LastError")
	}
	if couchbase := stateFor(t, client, "couchbase"); couchbase.Status != StatusConnected {
		t.Errorf("couchbase status = %v, want connected", couchbase.Status)
	}
}

func TestConnectAllServersDown(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "down-a"},
		{Name: "postgres", Endpoint: "down-b"},
	}, log.NewNop())

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected error when no server is reachable")
	}
}

func TestCallRoutesToServer(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
	}, log.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	text, err := client.Call(context.Background(), "run_query",
		map[string]any{"query": "SELECT COUNT(*) FROM hotel WHERE country = 'France'"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if text != `{"count": 42}` {
		t.Errorf("result = %q, want count payload", text)
	}

	if state := stateFor(t, client, "couchbase"); state.SuccessCount != 1 {
		t.Errorf("success count not recorded: %+v", state)
	}
}

func TestCallUnknownTool(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
	}, log.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if _, err := client.Call(context.Background(), "drop_database", nil); !errors.Is(err, ErrToolNotRouted) {
		t.Errorf("error = %v, want ErrToolNotRouted", err)
	}
}

func TestCallToolError(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
	}, log.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err := client.Call(context.Background(), "broken_query", map[string]any{})
	if err == nil {
		t.Fatal("expected error from failing tool")
	}
	if !strings.Contains(err.Error(), "syntax error") {
		t.Errorf("error should carry the server message, got %v", err)
	}
	if state := stateFor(t, client, "couchbase"); state.FailureCount != 1 {
		t.Errorf("failure count not recorded: %+v", state)
	}
}

func TestResetRediscoversTools(t *testing.T) {
	stubTransports(t, map[string]func(*mcpsdk.Server){
		"couchbase-endpoint": registerQueryTools,
	})

	client := New([]ServerConfig{
		{Name: "couchbase", Endpoint: "couchbase-endpoint"},
	}, log.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if _, ok := client.Lookup("run_query"); !ok {
		t.Error("run_query missing after reset")
	}
	if state := stateFor(t, client, "couchbase"); state.Status != StatusConnected {
		t.Errorf("status after reset = %v, want connected", state.Status)
	}
}

func TestBuildTransportSelection(t *testing.T) {
	tests := []struct {
		endpoint string
		wantSSE  bool
		wantErr  bool
	}{
		{endpoint: "http://localhost:8000/sse", wantSSE: true},
		{endpoint: "http://localhost:8000/sse/", wantSSE: true},
		{endpoint: "http://localhost:8000/mcp", wantSSE: false},
		{endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		transport, err := buildTransport(tt.endpoint)
		if tt.wantErr {
			if err == nil {
				t.Errorf("buildTransport(%q) should fail", tt.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("buildTransport(%q): %v", tt.endpoint, err)
			continue
		}
		_, isSSE := transport.(*mcpsdk.SSEClientTransport)
		if isSSE != tt.wantSSE {
			t.Errorf("buildTransport(%q) SSE = %v, want %v", tt.endpoint, isSSE, tt.wantSSE)
		}
	}
}

package agent

import (
	"encoding/json"
	"testing"

	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
)

func TestDescriptorSchema(t *testing.T) {
	d := gateway.Descriptor{
		Name:   "run_query",
		Server: "couchbase",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"query": {"type": "string"}},
			"required": ["query"]
		}`),
	}

	schema := descriptorSchema(d, log.NewNop())
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %T, want map", schema["properties"])
	}
	query, ok := props["query"].(map[string]any)
	if !ok || query["type"] != "string" {
		t.Errorf("query property = %v", props["query"])
	}

	required, ok := schema["required"].([]any)
	if !ok || len(required) != 1 || required[0] != "query" {
		t.Errorf("required = %v", schema["required"])
	}
}

func TestDescriptorSchemaFallsBackToOpenObject(t *testing.T) {
	tests := []struct {
		name   string
		schema json.RawMessage
	}{
		{"missing schema", nil},
		{"garbage schema", json.RawMessage(`{"type": [broken`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gateway.Descriptor{Name: "run_query", Server: "couchbase", Schema: tt.schema}
			schema := descriptorSchema(d, log.NewNop())
			if len(schema) != 1 || schema["type"] != "object" {
				t.Errorf("schema = %v, want open object", schema)
			}
		})
	}
}

func TestToolArgs(t *testing.T) {
	t.Run("nil input", func(t *testing.T) {
		args, err := toolArgs(nil)
		if err != nil || args != nil {
			t.Errorf("toolArgs(nil) = %v, %v", args, err)
		}
	})

	t.Run("map passes through", func(t *testing.T) {
		in := map[string]any{"query": "SELECT 1"}
		args, err := toolArgs(in)
		if err != nil {
			t.Fatalf("toolArgs() error = %v", err)
		}
		if args["query"] != "SELECT 1" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("struct round-trips", func(t *testing.T) {
		in := struct {
			Query string `json:"query"`
		}{Query: "SELECT 1"}
		args, err := toolArgs(in)
		if err != nil {
			t.Fatalf("toolArgs() error = %v", err)
		}
		if args["query"] != "SELECT 1" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("non-object rejected", func(t *testing.T) {
		if _, err := toolArgs("just a string"); err == nil {
			t.Error("toolArgs() expected error for non-object input")
		}
	})
}

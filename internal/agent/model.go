package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/invopop/jsonschema"

	"github.com/eshoval/dbagent/internal/gateway"
	"github.com/eshoval/dbagent/internal/log"
)

// ModelCaller is the slice of the language model the loop depends on.
// The production implementation goes through Genkit; tests substitute a
// scripted fake so loop behavior is verifiable without a model.
type ModelCaller interface {
	Generate(ctx context.Context, messages []*ai.Message) (*ai.ModelResponse, error)
}

// GenkitModel calls the configured model through Genkit.
//
// Tool requests are returned to the caller instead of being dispatched by
// the framework: the agent loop owns validation, gateway routing and the
// conversation record, so the framework's internal tool loop stays off.
type GenkitModel struct {
	g         *genkit.Genkit
	modelName string
	system    string
	config    map[string]any
	toolRefs  []ai.ToolRef
}

// GenkitModelConfig carries the model parameters captured at construction.
type GenkitModelConfig struct {
	ModelName    string // Provider-qualified, e.g. "googleai/gemini-2.5-flash"
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Tools        []ai.Tool // Registered gateway tools
}

// NewGenkitModel creates the production model caller.
func NewGenkitModel(g *genkit.Genkit, cfg GenkitModelConfig) *GenkitModel {
	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	return &GenkitModel{
		g:         g,
		modelName: cfg.ModelName,
		system:    cfg.SystemPrompt,
		config: map[string]any{
			"temperature":     cfg.Temperature,
			"maxOutputTokens": cfg.MaxTokens,
		},
		toolRefs: toolRefs,
	}
}

// Generate runs one model call over the full conversation.
func (m *GenkitModel) Generate(ctx context.Context, messages []*ai.Message) (*ai.ModelResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(m.modelName),
		ai.WithSystem(m.system),
		ai.WithMessages(messages...),
		ai.WithConfig(m.config),
		ai.WithReturnToolRequests(true),
	}
	if len(m.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(m.toolRefs...))
	}

	resp, err := genkit.Generate(ctx, m.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return resp, nil
}

// RegisterGatewayTools registers every discovered gateway tool with Genkit
// so the model sees the real declarations, including the server-provided
// input schemas.
//
// The registered handler routes through the gateway, which keeps the tools
// usable from genkit's own flows; in the agent loop they are never invoked
// by the framework because tool requests are returned to the loop.
func RegisterGatewayTools(g *genkit.Genkit, gw ToolGateway, logger log.Logger) []ai.Tool {
	descriptors := gw.Descriptors()
	tools := make([]ai.Tool, 0, len(descriptors))

	for _, d := range descriptors {
		schema := descriptorSchema(d, logger)

		name := d.Name
		tool := genkit.DefineToolWithInputSchema(g, name, d.Description, schema,
			func(ctx *ai.ToolContext, input any) (any, error) {
				args, err := toolArgs(input)
				if err != nil {
					return nil, err
				}
				return gw.Call(ctx.Context, name, args)
			})
		tools = append(tools, tool)
	}

	logger.Info("gateway tools registered", "count", len(tools))
	return tools
}

// descriptorSchema converts the server-provided JSON schema into the map
// form tool registration takes. The raw bytes are validated by parsing
// into a typed schema first, then flattened; anything that does not parse
// falls back to an open object schema, and the server still validates
// arguments on its side.
func descriptorSchema(d gateway.Descriptor, logger log.Logger) map[string]any {
	if len(d.Schema) > 0 {
		parsed := &jsonschema.Schema{}
		if err := json.Unmarshal(d.Schema, parsed); err != nil {
			logger.Warn("unparseable tool schema, using open schema",
				"tool", d.Name, "server", d.Server, "error", err)
		} else if schema, err := schemaMap(parsed); err != nil {
			logger.Warn("tool schema not convertible, using open schema",
				"tool", d.Name, "server", d.Server, "error", err)
		} else {
			return schema
		}
	}
	return map[string]any{"type": "object"}
}

// schemaMap flattens a typed schema into a plain map.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	return m, nil
}

// toolArgs normalizes a tool request input into the argument map the
// gateway sends over the wire.
func toolArgs(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	default:
		// Round-trip through JSON for struct-typed inputs.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling tool arguments: %w", err)
		}
		var args map[string]any
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("tool arguments are not an object: %w", err)
		}
		return args, nil
	}
}

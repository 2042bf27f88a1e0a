package loqui

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

// ToolExecutor is the injected collaborator the dispatch loop drives. The
// engine assumes nothing about the implementation beyond this contract.
type ToolExecutor interface {
	// Declarations returns the function declarations advertised to the
	// model. The same set is re-sent on every follow-up request of a
	// tool round trip.
	Declarations() []protocol.FunctionDeclaration
	// Execute runs one call. An error return becomes the tool-result
	// payload, never a thrown failure.
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// ToolHandler handles one tool call with raw JSON input.
type ToolHandler func(ctx context.Context, input json.RawMessage) (any, error)

// ToolSet is a registry of declarations and handlers implementing
// ToolExecutor.
type ToolSet struct {
	decls    []protocol.FunctionDeclaration
	handlers map[string]ToolHandler
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{handlers: make(map[string]ToolHandler)}
}

// Add registers a declaration with its handler.
func (ts *ToolSet) Add(decl protocol.FunctionDeclaration, handler ToolHandler) *ToolSet {
	ts.decls = append(ts.decls, decl)
	if handler != nil && decl.Name != "" {
		ts.handlers[decl.Name] = handler
	}
	return ts
}

// Declarations implements ToolExecutor.
func (ts *ToolSet) Declarations() []protocol.FunctionDeclaration {
	return ts.decls
}

// Execute implements ToolExecutor.
func (ts *ToolSet) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	handler, ok := ts.handlers[name]
	if !ok {
		return nil, core.NewToolExecutionError(name, fmt.Errorf("no handler registered"))
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, core.NewToolExecutionError(name, fmt.Errorf("marshal input: %w", err))
	}
	return handler(ctx, input)
}

// MakeTool creates a declaration+handler pair from a typed function. The
// parameter schema is reflected from the input struct.
//
// Example:
//
//	tool := loqui.MakeTool("get_weather", "Get weather for a location",
//	    func(ctx context.Context, input struct {
//	        Location string `json:"location"`
//	    }) (string, error) {
//	        return weatherAPI.Get(ctx, input.Location)
//	    },
//	)
func MakeTool[T any, R any](name, description string, fn func(context.Context, T) (R, error)) (protocol.FunctionDeclaration, ToolHandler) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero T
	schema := reflector.Reflect(&zero)
	params, err := json.Marshal(schema)
	if err != nil {
		params = []byte(`{"type":"object"}`)
	}

	handler := func(ctx context.Context, rawInput json.RawMessage) (any, error) {
		var input T
		if err := json.Unmarshal(rawInput, &input); err != nil {
			return nil, err
		}
		return fn(ctx, input)
	}

	return protocol.FunctionDeclaration{
		Name:        name,
		Description: description,
		Parameters:  params,
	}, handler
}

// AddFunc registers a typed function tool on the set.
func AddFunc[T any, R any](ts *ToolSet, name, description string, fn func(context.Context, T) (R, error)) *ToolSet {
	decl, handler := MakeTool(name, description, fn)
	return ts.Add(decl, handler)
}

// chatTools converts declarations to the HTTP request dialect.
func chatTools(decls []protocol.FunctionDeclaration) []protocol.ChatTool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]protocol.ChatTool, 0, len(decls))
	for _, decl := range decls {
		out = append(out, protocol.ChatTool{Type: "function", Function: decl})
	}
	return out
}

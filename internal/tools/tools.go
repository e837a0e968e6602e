// Package tools defines the tools available to the agent and the
// registry that exposes them to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is a named capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON schema object describing the
	// arguments: type "object" with properties and required.
	Parameters() map[string]any
	// Execute runs the tool. args is the verbatim JSON object from the
	// model.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition renders a tool as a function-calling catalogue entry.
func Definition(t Tool) map[string]any {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  params,
		},
	}
}

// Registry holds available tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns a snapshot of the catalogue, sorted by name so
// prompts built from it are stable.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })

	defs := make([]map[string]any, 0, len(list))
	for _, t := range list {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Execute runs the named tool. An unknown name returns
// *ErrToolNotFound without invoking anything; otherwise the tool's
// result and error are returned unchanged.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", &ErrToolNotFound{ToolName: name}
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return t.Execute(ctx, args)
}

// Func adapts a handler function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Handler         func(ctx context.Context, args json.RawMessage) (string, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func) Description() string { return f.ToolDescription }

// Parameters implements Tool.
func (f *Func) Parameters() map[string]any { return f.Schema }

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.Handler(ctx, args)
}

// Typed builds a Tool whose arguments decode into T. The parameter
// schema is reflected from T.
func Typed[T any](name, description string, handler func(ctx context.Context, args T) (string, error)) Tool {
	return &Func{
		ToolName:        name,
		ToolDescription: description,
		Schema:          SchemaFor[T](),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := DecodeArgs[T](raw)
			if err != nil {
				return "", fmt.Errorf("%s: %w", name, err)
			}
			return handler(ctx, args)
		},
	}
}

// DecodeArgs unmarshals a tool argument object. Empty input decodes as
// an empty object.
func DecodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

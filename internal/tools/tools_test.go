package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// countingTool records how often it was executed.
type countingTool struct {
	name  string
	desc  string
	calls int
}

func (c *countingTool) Name() string               { return c.name }
func (c *countingTool) Description() string        { return c.desc }
func (c *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Execute(context.Context, json.RawMessage) (string, error) {
	c.calls++
	return "ok", nil
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(&countingTool{name: "echo", desc: "old"})
	r.Register(&countingTool{name: "echo", desc: "new"})

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("Definitions() has %d entries, want 1", len(defs))
	}
	fn := defs[0]["function"].(map[string]any)
	if fn["description"] != "new" {
		t.Errorf("description = %v, want new", fn["description"])
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	known := &countingTool{name: "known"}
	r.Register(known)

	_, err := r.Execute(t.Context(), "missing", json.RawMessage(`{}`))
	var nf *ErrToolNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want *ErrToolNotFound", err)
	}
	if nf.ToolName != "missing" {
		t.Errorf("ToolName = %q", nf.ToolName)
	}
	if known.calls != 0 {
		t.Errorf("a tool was invoked %d times", known.calls)
	}
}

func TestRegistry_ExecutePassesErrorsThrough(t *testing.T) {
	sentinel := errors.New("boom")
	r := NewRegistry()
	r.Register(&Func{
		ToolName: "fail",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "partial", sentinel
		},
	})

	out, err := r.Execute(t.Context(), "fail", nil)
	if err != sentinel {
		t.Errorf("error = %v, want unwrapped sentinel", err)
	}
	if out != "partial" {
		t.Errorf("result = %q", out)
	}
}

func TestRegistry_NamesSortedAndHas(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"web_fetch", "exec", "read_file"} {
		r.Register(&countingTool{name: n})
	}

	names := r.Names()
	want := []string{"exec", "read_file", "web_fetch"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
	if !r.Has("exec") || r.Has("nope") {
		t.Error("Has() mismatch")
	}

	r.Unregister("exec")
	if r.Has("exec") || r.Len() != 2 {
		t.Error("Unregister did not remove the tool")
	}
}

type greetArgs struct {
	Name  string `json:"name" jsonschema_description:"Who to greet."`
	Times int    `json:"times,omitempty"`
}

func TestTyped_SchemaAndDecode(t *testing.T) {
	tool := Typed("greet", "Greets someone.", func(_ context.Context, a greetArgs) (string, error) {
		return "hello " + a.Name, nil
	})

	params := tool.Parameters()
	if params["type"] != "object" {
		t.Errorf("schema type = %v", params["type"])
	}
	if _, ok := params["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, ok := params["properties"].(map[string]any)
	if !ok || props["name"] == nil || props["times"] == nil {
		t.Fatalf("properties = %v", params["properties"])
	}
	name := props["name"].(map[string]any)
	if name["description"] != "Who to greet." {
		t.Errorf("name description = %v", name["description"])
	}
	required, _ := params["required"].([]any)
	if len(required) != 1 || required[0] != "name" {
		t.Errorf("required = %v, want [name]", params["required"])
	}

	out, err := tool.Execute(t.Context(), json.RawMessage(`{"name":"Ann"}`))
	if err != nil || out != "hello Ann" {
		t.Errorf("Execute = %q, %v", out, err)
	}

	if _, err := tool.Execute(t.Context(), json.RawMessage(`{"name":`)); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestDecodeArgs_Empty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		got, err := DecodeArgs[greetArgs](json.RawMessage(raw))
		if err != nil {
			t.Errorf("DecodeArgs(%q) error: %v", raw, err)
		}
		if got.Name != "" {
			t.Errorf("DecodeArgs(%q) = %+v", raw, got)
		}
	}
}

func TestRouteFromContext(t *testing.T) {
	if _, ok := RouteFromContext(t.Context()); ok {
		t.Error("empty context should have no route")
	}
	ctx := WithRoute(t.Context(), "telegram", "7")
	r, ok := RouteFromContext(ctx)
	if !ok || r.Channel != "telegram" || r.ChatID != "7" {
		t.Errorf("route = %+v, %v", r, ok)
	}
}

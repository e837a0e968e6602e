// Package llm provides clients for remote language-model endpoints:
// an OpenAI-compatible client (the default provider), an Anthropic
// Messages client, and a router that picks one per model name.
package llm

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNoProvider is returned when no client is configured for a model.
var ErrNoProvider = errors.New("no provider configured")

// Message is one entry of a conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that requested a tool.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool result to the assistant's invocation.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation attached to an assistant message, in
// OpenAI wire shape.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult returns a tool message answering the invocation id.
func ToolResult(content, toolCallID string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Request is a single chat request. Tools is the optional catalogue in
// `{type:"function", function:{...}}` form.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []map[string]any
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the provider-neutral result of a non-streaming call.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Client is implemented by every provider.
type Client interface {
	// Chat sends a request and waits for the complete response.
	Chat(ctx context.Context, req Request) (*ChatResponse, error)

	// ChatStream sends a streaming request. A non-2xx status is
	// returned as an error before any delta is produced.
	ChatStream(ctx context.Context, req Request) (*Stream, error)

	// Ping checks that the provider is reachable and accepts our key.
	Ping(ctx context.Context) error
}

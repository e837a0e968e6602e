package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		System("You are a helpful assistant."),
		User("Hello!"),
		Assistant("Hi there!"),
		User("List my files."),
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a helpful assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		System("sys"),
		User("List files."),
		{
			Role:    RoleAssistant,
			Content: "Let me look.",
			ToolCalls: []ToolCall{{
				ID:       "call_abc",
				Type:     "function",
				Function: FunctionCall{Name: "list_dir", Arguments: `{"path":"."}`},
			}},
		},
		ToolResult("a.txt", "call_abc"),
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected text + tool_use blocks, got %#v", result[1].Content)
	}
	if blocks[1].Type != "tool_use" || blocks[1].ID != "call_abc" || string(blocks[1].Input) != `{"path":"."}` {
		t.Errorf("unexpected tool_use block: %+v", blocks[1])
	}

	toolResult, ok := result[2].Content.([]anthropicContent)
	if !ok || toolResult[0].Type != "tool_result" || toolResult[0].ToolUseID != "call_abc" {
		t.Errorf("unexpected tool_result: %#v", result[2].Content)
	}
	if result[2].Role != RoleUser {
		t.Errorf("tool result role = %s, want user", result[2].Role)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_fetch",
			"description": "Fetch a URL",
			"parameters":  map[string]any{"type": "object"},
		},
	}}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 || result[0].Name != "web_fetch" || result[0].Description != "Fetch a URL" {
		t.Fatalf("unexpected conversion: %+v", result)
	}
}

func TestDecodeAnthropicDelta(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`, "Hi", true},
		{`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`, "", true},
		{`{"type":"message_start","message":{}}`, "", true},
		{`{oops`, "", false},
	}
	for _, tt := range tests {
		got, ok := decodeAnthropicDelta([]byte(tt.in))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("decodeAnthropicDelta(%s) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestAnthropicChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "sys" || !req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Good \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"day\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", srv.URL, nil)
	s, err := c.ChatStream(t.Context(), Request{Model: "claude-test", Messages: []Message{System("sys"), User("hi")}})
	if err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}
	text, err := s.Collect()
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if text != "Good day" {
		t.Errorf("text = %q", text)
	}
}

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model":"claude-test","stop_reason":"end_turn",
			"content":[{"type":"text","text":"Hello"}],
			"usage":{"input_tokens":5,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", srv.URL, nil)
	resp, err := c.Chat(t.Context(), Request{Model: "claude-test", Messages: []Message{User("hi")}})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Message.Content != "Hello" || resp.FinishReason != "end_turn" || resp.InputTokens != 5 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

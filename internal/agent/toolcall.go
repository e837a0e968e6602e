package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Invocation is a tool call extracted from model output.
type Invocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type fencedCall struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

var markdown = goldmark.New()

// ParseToolCall finds the first fenced code block tagged json whose body
// decodes to {"tool": ..., "arguments": ...} naming a registered tool.
// Anything else (no fence, bad JSON, unknown tool) is not a call, and
// the caller treats text as the answer.
func ParseToolCall(s string, isRegistered func(name string) bool) (*Invocation, bool) {
	if !strings.Contains(s, "```") && !strings.Contains(s, "~~~") {
		return nil, false
	}

	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var found *Invocation
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if !strings.EqualFold(string(block.Language(src)), "json") {
			return ast.WalkSkipChildren, nil
		}

		var body bytes.Buffer
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			body.Write(seg.Value(src))
		}

		var call fencedCall
		if err := json.Unmarshal(body.Bytes(), &call); err != nil || call.Tool == "" {
			return ast.WalkSkipChildren, nil
		}
		if isRegistered != nil && !isRegistered(call.Tool) {
			return ast.WalkSkipChildren, nil
		}

		args := call.Arguments
		if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
			args = json.RawMessage("{}")
		}
		found = &Invocation{
			ID:        "call_" + uuid.NewString(),
			Name:      call.Tool,
			Arguments: args,
		}
		return ast.WalkStop, nil
	})

	return found, found != nil
}

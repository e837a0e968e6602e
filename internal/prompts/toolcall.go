package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

const toolProtocolHeader = "## Tools\n\n" +
	"To use a tool, reply with exactly one fenced code block tagged json, shaped like this:\n\n" +
	"```json\n" +
	`{"tool": "<tool name>", "arguments": {"<param>": "<value>"}}` + "\n" +
	"```\n\n" +
	"You will receive the tool's output and can then call another tool or answer.\n" +
	"Only the first valid block in a reply is executed. When no tool is needed, answer in plain text without a json block.\n\n" +
	"Available tools:"

// ToolProtocolSection describes the fenced-JSON call format and lists
// the catalogue. Entries use the function-definition shape produced by
// tools.Definition. An empty catalogue yields an empty section.
func ToolProtocolSection(catalogue []map[string]any) string {
	if len(catalogue) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(toolProtocolHeader)
	for _, def := range catalogue {
		fn, _ := def["function"].(map[string]any)
		if fn == nil {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		fmt.Fprintf(&b, "\n\n### %s\n%s", name, desc)
		if params, ok := fn["parameters"]; ok && params != nil {
			if raw, err := json.Marshal(params); err == nil {
				fmt.Fprintf(&b, "\nParameters: `%s`", raw)
			}
		}
	}
	return b.String()
}

package tools

import "fmt"

// ErrToolNotFound is returned by Registry.Execute when no tool is
// registered under the requested name.
type ErrToolNotFound struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool %q not found", e.ToolName)
}

// ErrToolUnavailable is returned when a registered tool cannot run in
// the current context, such as the message tool with no route to reply
// on or web_search with no provider configured.
type ErrToolUnavailable struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
	}
	return fmt.Sprintf("tool %q is not available: %s", e.ToolName, e.Reason)
}

package prompts

import (
	"fmt"
	"runtime"
	"time"
)

// identityTemplate verbs: name, name, current time, OS/arch, workspace,
// memory file, history file, memory file.
const identityTemplate = `# %s

You are %s, a helpful AI assistant.

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s
- Long-term memory: %s
- History log: %s

## Your Capabilities
You have access to tools that allow you to:
- Read, write, and edit files
- Execute shell commands
- Search the web and fetch web pages
- Search archived conversation history
- Send messages to users

IMPORTANT: When responding to direct questions or conversations, reply directly with your text response.
Only use the 'message' tool when you need to send a message to a specific chat channel.

Always be helpful, accurate, and concise. When using tools, think step by step.
When remembering something important, write to %s`

// IdentityPrompt returns the opening section of the system prompt.
func IdentityPrompt(name string, now time.Time, workspace, memoryPath, historyPath string) string {
	return fmt.Sprintf(identityTemplate,
		name, name,
		now.Format("2006-01-02 15:04 (Monday)"),
		runtime.GOOS+"/"+runtime.GOARCH,
		workspace, memoryPath, historyPath, memoryPath)
}

// LongTermMemorySection wraps MEMORY.md content. Empty content yields
// an empty section.
func LongTermMemorySection(content string) string {
	if content == "" {
		return ""
	}
	return "## Long-term Memory\n\n" + content
}

// SessionSection names the channel and chat of the current turn.
func SessionSection(channel, chatID string) string {
	return fmt.Sprintf("## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
}

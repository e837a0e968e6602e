package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santosobot/santoso/internal/llm"
	"github.com/santosobot/santoso/internal/memory"
)

// BootstrapFiles are the workspace files folded into the system prompt,
// in order, when present and non-empty.
var BootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

const sectionSeparator = "\n\n---\n\n"

// LongTermMemory is the slice of [memory.FileStore] the builder reads.
type LongTermMemory interface {
	ReadLongTerm() (string, error)
	MemoryPath() string
	HistoryPath() string
}

// Builder produces the message list for a turn.
type Builder struct {
	name      string
	workspace string
	memory    LongTermMemory
	logger    *slog.Logger
	now       func() time.Time
}

// NewBuilder creates a builder for the given workspace. mem may be nil,
// in which case the memory section is omitted and the identity block
// points at the default memory paths.
func NewBuilder(name, workspace string, mem LongTermMemory, logger *slog.Logger) *Builder {
	if name == "" {
		name = "Santoso"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		name:      name,
		workspace: workspace,
		memory:    mem,
		logger:    logger.With("component", "prompts"),
		now:       time.Now,
	}
}

// SystemPrompt joins identity, bootstrap files, long-term memory and the
// tool protocol, skipping empty parts.
func (b *Builder) SystemPrompt(catalogue []map[string]any) string {
	memPath := filepath.Join(b.workspace, "memory", "MEMORY.md")
	histPath := filepath.Join(b.workspace, "memory", "HISTORY.md")
	if b.memory != nil {
		memPath, histPath = b.memory.MemoryPath(), b.memory.HistoryPath()
	}

	parts := []string{IdentityPrompt(b.name, b.now(), b.workspace, memPath, histPath)}
	if s := b.bootstrap(); s != "" {
		parts = append(parts, s)
	}
	if s := LongTermMemorySection(b.longTerm()); s != "" {
		parts = append(parts, s)
	}
	if s := ToolProtocolSection(catalogue); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, sectionSeparator)
}

// BuildMessages returns system, then history, then the new user
// message. The session section is appended to the system prompt only
// when both channel and chatID are known.
func (b *Builder) BuildMessages(history []memory.Entry, userContent, channel, chatID string, catalogue []map[string]any) []llm.Message {
	system := b.SystemPrompt(catalogue)
	if channel != "" && chatID != "" {
		system += "\n\n" + SessionSection(channel, chatID)
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.System(system))
	for _, e := range history {
		if e.Role == llm.RoleAssistant {
			msgs = append(msgs, llm.Assistant(e.Content))
		} else {
			msgs = append(msgs, llm.User(e.Content))
		}
	}
	return append(msgs, llm.User(userContent))
}

func (b *Builder) bootstrap() string {
	var parts []string
	for _, name := range BootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			if !os.IsNotExist(err) {
				b.logger.Warn("failed to read bootstrap file", "file", name, "error", err)
			}
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		parts = append(parts, "## "+name+"\n\n"+content)
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) longTerm() string {
	if b.memory == nil {
		return ""
	}
	content, err := b.memory.ReadLongTerm()
	if err != nil {
		b.logger.Warn("failed to read long-term memory", "error", err)
		return ""
	}
	return strings.TrimSpace(content)
}

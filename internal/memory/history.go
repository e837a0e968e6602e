// Package memory holds per-session conversation history and the
// durable stores that consolidated history is archived to.
package memory

import (
	"slices"
	"sync"
	"time"
)

// Entry is one message in a session's history.
type Entry struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// History is an append-only conversation log for one session. The
// backing slice is never exposed; readers receive copies. Only
// consolidation removes entries, and only from the front.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{now: time.Now}
}

// Append adds entries in order, stamping any without a timestamp.
func (h *History) Append(entries ...Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = h.now()
		}
		e.ToolsUsed = slices.Clone(e.ToolsUsed)
		h.entries = append(h.entries, e)
	}
}

// AppendTurn records one processed turn: the user message, then the
// assistant answer with the tools it used.
func (h *History) AppendTurn(user, assistant string, toolsUsed []string) {
	now := h.now()
	h.Append(
		Entry{Role: "user", Content: user, Timestamp: now},
		Entry{Role: "assistant", Content: assistant, ToolsUsed: toolsUsed, Timestamp: now},
	)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Entries returns a copy of the whole history.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.entries)
}

// Recent returns a copy of the last n entries. n <= 0 returns all.
func (h *History) Recent(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n >= len(h.entries) {
		return slices.Clone(h.entries)
	}
	return slices.Clone(h.entries[len(h.entries)-n:])
}

// Oldest returns a copy of the first n entries.
func (h *History) Oldest(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n = min(max(n, 0), len(h.entries))
	return slices.Clone(h.entries[:n])
}

// DropFront removes the first n entries.
func (h *History) DropFront(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n = min(max(n, 0), len(h.entries))
	h.entries = slices.Clone(h.entries[n:])
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

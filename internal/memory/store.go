package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps long-term memory (MEMORY.md) and the consolidated
// history log (HISTORY.md) under workspace/memory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the memory directory if needed.
func NewFileStore(workspace string) (*FileStore, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// MemoryPath is the long-term memory file.
func (s *FileStore) MemoryPath() string { return filepath.Join(s.dir, "MEMORY.md") }

// HistoryPath is the append-only history log.
func (s *FileStore) HistoryPath() string { return filepath.Join(s.dir, "HISTORY.md") }

// ReadLongTerm returns MEMORY.md, or "" when it does not exist.
func (s *FileStore) ReadLongTerm() (string, error) {
	data, err := os.ReadFile(s.MemoryPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read long-term memory: %w", err)
	}
	return string(data), nil
}

// WriteLongTerm replaces MEMORY.md.
func (s *FileStore) WriteLongTerm(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.MemoryPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write long-term memory: %w", err)
	}
	return nil
}

// Append adds a block to HISTORY.md followed by a blank line.
func (s *FileStore) Append(_ context.Context, text string) error {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.HistoryPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.WriteString(text + "\n\n"); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}

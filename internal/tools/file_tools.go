package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santosobot/santoso/internal/paths"
)

const maxReadBytes = 50 * 1024

// FileTools provides file read/write/edit/list capabilities. Paths are
// resolved by a [paths.Resolver], which enforces the workspace
// restriction when configured.
type FileTools struct {
	resolver *paths.Resolver
}

// NewFileTools creates a new FileTools instance.
func NewFileTools(resolver *paths.Resolver) *FileTools {
	return &FileTools{resolver: resolver}
}

// Read reads the contents of a file. offset is a 1-indexed line number
// and limit a line count; zero means whole file.
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := ft.resolver.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("not a file: %s", path)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)

	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")

		startLine := 0
		if offset > 0 {
			startLine = offset - 1
		}
		if startLine >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}

		endLine := len(lines)
		if limit > 0 && startLine+limit < endLine {
			endLine = startLine + limit
		}

		content = strings.Join(lines[startLine:endLine], "\n")
		if startLine > 0 || endLine < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", startLine+1, endLine, len(lines), content)
		}
	}

	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

// Write writes content to a file, creating parent directories.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	absPath, err := ft.resolver.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Edit replaces exactly one occurrence of oldText with newText.
func (ft *FileTools) Edit(ctx context.Context, path, oldText, newText string) error {
	if oldText == "" {
		return fmt.Errorf("old_text must not be empty")
	}
	absPath, err := ft.resolver.Resolve(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	content := string(data)

	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		if len(oldText) > 100 {
			return fmt.Errorf("old text not found in file (first 100 chars: %q...)", oldText[:100])
		}
		return fmt.Errorf("old text not found in file: %q", oldText)
	case count > 1:
		return fmt.Errorf("old text appears %d times in file; must be unique for safe editing", count)
	}

	newContent := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// List returns the entries of a directory, directories suffixed with
// "/", sorted by name.
func (ft *FileTools) List(ctx context.Context, path string) ([]string, error) {
	absPath, err := ft.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

type readFileArgs struct {
	Path   string `json:"path" jsonschema_description:"File path, relative to the workspace or absolute."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"1-indexed line to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum number of lines to read."`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema_description:"File path to write. Parent directories are created."`
	Content string `json:"content" jsonschema_description:"Full content to write."`
}

type editFileArgs struct {
	Path    string `json:"path" jsonschema_description:"File path to edit."`
	OldText string `json:"old_text" jsonschema_description:"Exact text to find. Must occur exactly once."`
	NewText string `json:"new_text" jsonschema_description:"Replacement text."`
}

type listDirArgs struct {
	Path string `json:"path" jsonschema_description:"Directory path to list."`
}

// Tools returns read_file, write_file, edit_file and list_dir.
func (ft *FileTools) Tools() []Tool {
	return []Tool{
		Typed("read_file", "Read the contents of a file. Use offset/limit for large files.",
			func(ctx context.Context, a readFileArgs) (string, error) {
				return ft.Read(ctx, a.Path, a.Offset, a.Limit)
			}),
		Typed("write_file", "Write content to a file, replacing it if it exists.",
			func(ctx context.Context, a writeFileArgs) (string, error) {
				if err := ft.Write(ctx, a.Path, a.Content); err != nil {
					return "", err
				}
				return fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Path), nil
			}),
		Typed("edit_file", "Edit a file by replacing old_text with new_text. old_text must match exactly once.",
			func(ctx context.Context, a editFileArgs) (string, error) {
				if err := ft.Edit(ctx, a.Path, a.OldText, a.NewText); err != nil {
					return "", err
				}
				return fmt.Sprintf("Successfully edited %s", a.Path), nil
			}),
		Typed("list_dir", "List the contents of a directory.",
			func(ctx context.Context, a listDirArgs) (string, error) {
				entries, err := ft.List(ctx, a.Path)
				if err != nil {
					return "", err
				}
				if len(entries) == 0 {
					return fmt.Sprintf("Directory %s is empty", a.Path), nil
				}
				return strings.Join(entries, "\n"), nil
			}),
	}
}

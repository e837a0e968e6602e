package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santosobot/santoso/internal/paths"
)

func newFileTools(t *testing.T, restrict bool) (*FileTools, string) {
	t.Helper()
	workspace := t.TempDir()
	return NewFileTools(paths.New(workspace, restrict, nil)), workspace
}

func TestFileTools_ReadWriteEdit(t *testing.T) {
	ft, workspace := newFileTools(t, true)
	ctx := t.Context()

	content := "Hello, World!\nLine 2\nLine 3"
	if err := ft.Write(ctx, "sub/test.txt", content); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, "sub", "test.txt")); err != nil {
		t.Fatalf("File not created: %v", err)
	}

	got, err := ft.Read(ctx, "sub/test.txt", 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != content {
		t.Errorf("Read = %q, want %q", got, content)
	}

	got, err = ft.Read(ctx, "sub/test.txt", 2, 1)
	if err != nil {
		t.Fatalf("Read with offset failed: %v", err)
	}
	if !strings.Contains(got, "[Lines 2-2 of 3]") || !strings.HasSuffix(got, "Line 2") {
		t.Errorf("Read with offset = %q", got)
	}

	if err := ft.Edit(ctx, "sub/test.txt", "World", "Gopher"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	got, _ = ft.Read(ctx, "sub/test.txt", 0, 0)
	if !strings.HasPrefix(got, "Hello, Gopher!") {
		t.Errorf("after edit = %q", got)
	}
}

func TestFileTools_EditRequiresExactlyOneMatch(t *testing.T) {
	ft, _ := newFileTools(t, true)
	ctx := t.Context()
	if err := ft.Write(ctx, "f.txt", "a a b"); err != nil {
		t.Fatal(err)
	}

	if err := ft.Edit(ctx, "f.txt", "a", "x"); err == nil || !strings.Contains(err.Error(), "2 times") {
		t.Errorf("multiple match error = %v", err)
	}
	if err := ft.Edit(ctx, "f.txt", "zzz", "x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("no match error = %v", err)
	}
	if err := ft.Edit(ctx, "f.txt", "", "x"); err == nil {
		t.Error("expected error for empty old_text")
	}
}

func TestFileTools_RestrictedRejectsEscape(t *testing.T) {
	ft, _ := newFileTools(t, true)
	ctx := t.Context()

	if _, err := ft.Read(ctx, "../outside.txt", 0, 0); err == nil {
		t.Error("expected read outside workspace to fail")
	}
	if err := ft.Write(ctx, "/tmp/santoso-escape.txt", "x"); err == nil {
		t.Error("expected absolute write outside workspace to fail")
	}
}

func TestFileTools_UnrestrictedAllowsAbsolute(t *testing.T) {
	ft, _ := newFileTools(t, false)
	outside := filepath.Join(t.TempDir(), "out.txt")

	if err := ft.Write(t.Context(), outside, "ok"); err != nil {
		t.Fatalf("unrestricted write failed: %v", err)
	}
}

func TestFileTools_List(t *testing.T) {
	ft, workspace := newFileTools(t, true)
	os.MkdirAll(filepath.Join(workspace, "dir"), 0o755)
	os.WriteFile(filepath.Join(workspace, "b.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(workspace, "a.txt"), nil, 0o644)

	got, err := ft.List(t.Context(), ".")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"a.txt", "b.txt", "dir/"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", got, want)
	}

	if _, err := ft.List(t.Context(), "nope"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFileTools_ToolsViaRegistry(t *testing.T) {
	ft, _ := newFileTools(t, true)
	r := NewRegistry()
	for _, tool := range ft.Tools() {
		r.Register(tool)
	}

	ctx := t.Context()
	out, err := r.Execute(ctx, "write_file", json.RawMessage(`{"path":"n.md","content":"note"}`))
	if err != nil || !strings.Contains(out, "4 bytes") {
		t.Fatalf("write_file = %q, %v", out, err)
	}
	out, err = r.Execute(ctx, "read_file", json.RawMessage(`{"path":"n.md"}`))
	if err != nil || out != "note" {
		t.Errorf("read_file = %q, %v", out, err)
	}
	out, err = r.Execute(ctx, "list_dir", json.RawMessage(`{"path":"."}`))
	if err != nil || out != "n.md" {
		t.Errorf("list_dir = %q, %v", out, err)
	}
	if _, err := r.Execute(ctx, "edit_file", json.RawMessage(`{"path":"n.md","old_text":"note","new_text":"memo"}`)); err != nil {
		t.Errorf("edit_file: %v", err)
	}
}

// Package paths resolves tool-supplied paths against the agent
// workspace. A single [Resolver] is built from configuration at
// startup and shared by the file and shell tools.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideWorkspace is returned when a restricted resolver is asked
// for a path that lands outside its root after cleaning and symlink
// evaluation.
type ErrOutsideWorkspace struct {
	Path string
	Root string
}

// Error implements the error interface.
func (e *ErrOutsideWorkspace) Error() string {
	return fmt.Sprintf("path %q is outside the workspace %s", e.Path, e.Root)
}

// Resolver maps user paths to absolute paths. Relative paths resolve
// against the root; named prefixes ("memory:") resolve against their
// directory. When restricted, every result must stay within the root.
//
// It is nil-safe: a nil *Resolver expands ~ and otherwise returns the
// cleaned input.
type Resolver struct {
	root     string
	restrict bool
	prefixes map[string]string // "memory:" -> "/abs/workspace/memory"
	sorted   []string          // prefixes sorted by descending length
}

// New creates a Resolver rooted at root. Prefix keys are names without
// the trailing colon; relative prefix directories are taken relative
// to root.
func New(root string, restrict bool, prefixes map[string]string) *Resolver {
	root = filepath.Clean(ExpandHome(root))
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	r := &Resolver{
		root:     root,
		restrict: restrict,
		prefixes: make(map[string]string, len(prefixes)),
	}
	for name, dir := range prefixes {
		key := name
		if !strings.HasSuffix(key, ":") {
			key += ":"
		}
		dir = ExpandHome(dir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		r.prefixes[key] = filepath.Clean(dir)
		r.sorted = append(r.sorted, key)
	}
	// Longer prefixes match first so "kb:" cannot steal "kbase:".
	sort.Slice(r.sorted, func(i, j int) bool {
		return len(r.sorted[i]) > len(r.sorted[j])
	})
	return r
}

// Root returns the absolute workspace directory.
func (r *Resolver) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Restricted reports whether results are confined to the root.
func (r *Resolver) Restricted() bool {
	return r != nil && r.restrict
}

// Resolve converts path to an absolute, cleaned path.
func (r *Resolver) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if r == nil {
		return filepath.Clean(ExpandHome(path)), nil
	}

	abs := r.expand(path)
	if !r.restrict {
		return abs, nil
	}

	realRoot := evalExisting(r.root)
	realPath := evalExisting(abs)
	if !Within(realRoot, realPath) {
		return "", &ErrOutsideWorkspace{Path: path, Root: r.root}
	}
	return abs, nil
}

func (r *Resolver) expand(path string) string {
	for _, prefix := range r.sorted {
		if strings.HasPrefix(path, prefix) {
			rel := strings.TrimPrefix(path, prefix)
			return filepath.Clean(filepath.Join(r.prefixes[prefix], rel))
		}
	}
	path = ExpandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	return filepath.Clean(path)
}

// Prefixes returns the registered prefix names sorted alphabetically,
// without trailing colons.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.prefixes))
	for prefix := range r.prefixes {
		names = append(names, strings.TrimSuffix(prefix, ":"))
	}
	sort.Strings(names)
	return names
}

// Within reports whether path equals root or lies beneath it. Both
// must be clean absolute paths.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// evalExisting resolves symlinks in the longest existing ancestor of
// path and re-attaches the remainder, so paths that do not exist yet
// (write targets) are still checked against where they would land.
func evalExisting(path string) string {
	var rest []string
	cur := path
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			parts := append([]string{real}, rest...)
			return filepath.Join(parts...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

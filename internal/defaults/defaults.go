// Package defaults provides embedded copies of the default configuration
// and workspace bootstrap files for the onboard subcommand.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed bootstrap/*.md
var bootstrapFS embed.FS

// Bootstrap returns the embedded bootstrap files keyed by file name.
func Bootstrap() (map[string][]byte, error) {
	entries, err := fs.ReadDir(bootstrapFS, "bootstrap")
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := bootstrapFS.ReadFile("bootstrap/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}
	return files, nil
}

// InstallBootstrap copies the bootstrap files into workspace and
// returns the paths it wrote. Existing files are never overwritten.
func InstallBootstrap(workspace string) ([]string, error) {
	files, err := Bootstrap()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, name := range names {
		path := filepath.Join(workspace, name)
		ok, err := WriteIfMissing(path, files[name], 0o644)
		if err != nil {
			return written, err
		}
		if ok {
			written = append(written, path)
		}
	}
	return written, nil
}

// WriteIfMissing writes content to path only if the file does not
// already exist, so onboarding never clobbers user edits. It reports
// whether the file was written.
func WriteIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}

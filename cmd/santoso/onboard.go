package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/santosobot/santoso/internal/config"
	"github.com/santosobot/santoso/internal/defaults"
)

// runOnboard writes the default config (owner-only, since it will hold
// API keys) and creates the workspace with the bundled bootstrap files.
// Existing files are never overwritten.
func runOnboard(w io.Writer, configPath string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	configPath = config.ExpandHome(configPath)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	wrote, err := defaults.WriteIfMissing(configPath, defaults.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s (exists, left unchanged)\n", configPath)
	}

	// The workspace comes from the config actually on disk, which may
	// be a user's edited file rather than the defaults just written.
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
		fmt.Fprintf(w, "  ! could not read %s (%v), using default workspace\n", configPath, err)
	}
	workspace := cfg.Agent.Workspace
	if err := os.MkdirAll(filepath.Join(workspace, "memory"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	written, err := defaults.InstallBootstrap(workspace)
	if err != nil {
		return fmt.Errorf("install bootstrap files: %w", err)
	}
	for _, p := range written {
		fmt.Fprintf(w, "  ✓ %s\n", p)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Workspace ready at %s\n", workspace)
	fmt.Fprintf(w, "Add your API key to %s, then run 'santoso agent'.\n", configPath)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/santosobot/santoso/internal/config"
	"github.com/santosobot/santoso/internal/connwatch"
)

// statusProbeTimeout bounds the provider reachability check.
const statusProbeTimeout = 10 * time.Second

// statusReport is what the status command prints.
type statusReport struct {
	ConfigPath      string            `json:"config_path"`
	ConfigFound     bool              `json:"config_found"`
	Workspace       string            `json:"workspace"`
	WorkspaceExists bool              `json:"workspace_exists"`
	Model           string            `json:"model"`
	APIBase         string            `json:"api_base"`
	OpenAIKey       bool              `json:"openai_key"`
	AnthropicKey    bool              `json:"anthropic_key"`
	Provider        *connwatch.Status `json:"provider,omitempty"`
}

func runStatus(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	var r statusReport

	cfg := config.Default()
	path, err := config.FindConfig(configPath)
	switch {
	case err == nil:
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
		r.ConfigPath = path
		r.ConfigFound = true
	case errors.Is(err, config.ErrNoConfig):
		r.ConfigPath = config.DefaultPath()
	default:
		return err
	}

	r.Workspace = cfg.Agent.Workspace
	if info, err := os.Stat(cfg.Agent.Workspace); err == nil && info.IsDir() {
		r.WorkspaceExists = true
	}
	r.Model = cfg.Agent.Model
	r.APIBase = cfg.Provider.APIBase
	r.OpenAIKey = cfg.Provider.Configured()
	r.AnthropicKey = cfg.Anthropic.Configured()

	if providerConfigured(cfg) {
		client := newLLMClient(cfg, cfg.Logger(stderr))
		st := connwatch.Once(ctx, "provider", statusProbeTimeout, client.Ping)
		r.Provider = &st
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printStatus(stdout, r)
	return nil
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintln(w, "Santoso status")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-11s %s %s\n", "config:", r.ConfigPath, mark(r.ConfigFound, "", "(not found, run 'santoso onboard')"))
	fmt.Fprintf(w, "  %-11s %s %s\n", "workspace:", r.Workspace, mark(r.WorkspaceExists, "", "(missing)"))
	fmt.Fprintf(w, "  %-11s %s\n", "model:", r.Model)
	fmt.Fprintf(w, "  %-11s %s\n", "api base:", r.APIBase)
	fmt.Fprintf(w, "  %-11s %s\n", "openai:", mark(r.OpenAIKey, "key set", "not set"))
	fmt.Fprintf(w, "  %-11s %s\n", "anthropic:", mark(r.AnthropicKey, "key set", "not set"))
	switch {
	case r.Provider == nil:
		fmt.Fprintf(w, "  %-11s %s\n", "provider:", "not checked (no API key)")
	case r.Provider.Ready:
		fmt.Fprintf(w, "  %-11s %s\n", "provider:", "reachable")
	default:
		fmt.Fprintf(w, "  %-11s unreachable: %s\n", "provider:", r.Provider.LastError)
	}
}

func mark(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

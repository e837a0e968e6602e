package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/santosobot/santoso/internal/agent"
	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/config"
	"github.com/santosobot/santoso/internal/events"
	"github.com/santosobot/santoso/internal/fetch"
	"github.com/santosobot/santoso/internal/llm"
	"github.com/santosobot/santoso/internal/memory"
	"github.com/santosobot/santoso/internal/opstate"
	"github.com/santosobot/santoso/internal/paths"
	"github.com/santosobot/santoso/internal/prompts"
	"github.com/santosobot/santoso/internal/search"
	"github.com/santosobot/santoso/internal/tools"
)

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return nil, "", fmt.Errorf("%w; run 'santoso onboard' to create one", err)
		}
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// errNoAPIKey is returned by commands that need a provider when none
// has a key.
var errNoAPIKey = errors.New("no API key configured: set provider.api_key (or anthropic.api_key) in the config file")

func providerConfigured(cfg *config.Config) bool {
	return cfg.Provider.Configured() || cfg.Anthropic.Configured()
}

// newLLMClient builds a multi-provider client. The OpenAI-compatible
// endpoint is the fallback; Anthropic serves models prefixed "claude"
// and any model routed to it explicitly.
func newLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	var fallback llm.Client
	var openai *llm.OpenAIClient
	if cfg.Provider.Configured() {
		openai = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.APIBase,
			Timeout: time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		}, logger)
		fallback = openai
	}

	var anthropic *llm.AnthropicClient
	if cfg.Anthropic.Configured() {
		anthropic = llm.NewAnthropicClient(cfg.Anthropic.APIKey, "", logger)
		if fallback == nil {
			fallback = anthropic
		}
	}

	multi := llm.NewMultiClient(fallback)
	if openai != nil {
		multi.AddProvider("openai", openai)
	}
	if anthropic != nil {
		multi.AddProvider("anthropic", anthropic)
		multi.AddPrefix("claude", "anthropic")
	}
	for _, m := range cfg.Models {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Info("LLM client initialized",
		"model", cfg.Agent.Model,
		"openai", openai != nil,
		"anthropic", anthropic != nil,
	)
	return multi
}

// app is everything a running assistant needs, shared by the agent and
// gateway commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	bus      *bus.MessageBus
	events   *events.Bus
	client   llm.Client
	files    *memory.FileStore
	archive  *memory.SQLiteArchive
	state    *opstate.Store
	sessions *memory.Sessions
	tools    *tools.Registry
	loop     *agent.Loop
}

// newApp opens the workspace and data stores and assembles the agent.
// The caller must Close the result.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	workspace := cfg.Agent.Workspace
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", workspace, err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    bus.New(0),
		events: events.New(),
	}

	var err error
	a.files, err = memory.NewFileStore(workspace)
	if err != nil {
		return nil, err
	}

	archivePath := filepath.Join(cfg.DataDir, "history.db")
	a.archive, err = memory.OpenSQLiteArchive(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open history archive %s: %w", archivePath, err)
	}

	statePath := filepath.Join(cfg.DataDir, "state.db")
	a.state, err = opstate.NewStore(statePath)
	if err != nil {
		a.archive.Close()
		return nil, fmt.Errorf("open state store %s: %w", statePath, err)
	}
	logger.Debug("data stores opened", "archive", archivePath, "state", statePath)

	a.client = newLLMClient(cfg, logger)
	a.sessions = memory.NewSessions(cfg.Agent.MemoryWindow, memory.Tee(a.files, a.archive), a.events, logger)

	a.tools, err = a.registerTools()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.loop = agent.NewLoop(agent.Config{
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
		Stream:        cfg.Agent.Streaming(),
		ProgressEvery: cfg.Agent.ProgressEvery,
	}, agent.Deps{
		Client:   a.client,
		Builder:  prompts.NewBuilder("", workspace, a.files, logger),
		Tools:    a.tools,
		Sessions: a.sessions,
		Bus:      a.bus,
		Events:   a.events,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) registerTools() (*tools.Registry, error) {
	cfg := a.cfg
	resolver := paths.New(cfg.Agent.Workspace, cfg.Tools.Restricted(), map[string]string{
		"memory": "memory",
	})

	reg := tools.NewRegistry()
	for _, t := range tools.NewFileTools(resolver).Tools() {
		reg.Register(t)
	}

	shell, err := tools.NewShellExec(tools.ShellExecConfig{
		Resolver:       resolver,
		DeniedPatterns: cfg.Tools.DeniedPatterns,
		DefaultTimeout: time.Duration(cfg.Tools.ShellTimeout) * time.Second,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("exec tool: %w", err)
	}
	reg.Register(shell.Tool())

	reg.Register(fetch.Tool(fetch.New(
		fetch.WithMaxChars(cfg.Tools.Web.FetchMaxChars),
		fetch.WithLogger(a.logger),
	)))

	searchMgr := search.NewManager("")
	if cfg.Tools.Web.BraveAPIKey != "" {
		searchMgr.Register(search.NewBrave(cfg.Tools.Web.BraveAPIKey, ""))
	}
	if cfg.Tools.Web.SearXNGURL != "" {
		searchMgr.Register(search.NewSearXNG(cfg.Tools.Web.SearXNGURL))
	}
	reg.Register(search.Tool(searchMgr))

	reg.Register(tools.NewMessageTool(a.bus))
	reg.Register(tools.NewSearchHistoryTool(a.archive))
	reg.Register(tools.NewSystemInfoTool(cfg.Agent.Workspace))

	a.logger.Info("tools registered", "count", reg.Len(), "search", searchMgr.Providers())
	return reg, nil
}

// Close waits for background consolidation and closes the stores.
func (a *app) Close() error {
	if a.sessions != nil {
		a.sessions.Wait()
	}
	var errs []error
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	return errors.Join(errs...)
}

// Package config handles Santoso configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/santosobot/santoso/internal/paths"
)

// ErrNoConfig is returned by [FindConfig] when no file exists at any
// of the search paths.
var ErrNoConfig = errors.New("no config file found")

// Home returns the Santoso home directory (~/.santoso). Falls back to
// ".santoso" relative to the working directory if the user home cannot
// be determined.
func Home() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".santoso")
	}
	return ".santoso"
}

// DefaultPath is where onboard writes the config file.
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.santoso/config.yaml,
// ~/.config/santoso/config.yaml, /etc/santoso/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml", DefaultPath()}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "santoso", "config.yaml"))
	}

	paths = append(paths, "/etc/santoso/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Santoso configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Provider  ProviderConfig  `yaml:"provider"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Models    []ModelRoute    `yaml:"models"`
	Tools     ToolsConfig     `yaml:"tools"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	MaxIterations int     `yaml:"max_iterations"`
	// MemoryWindow is the number of history entries kept in context.
	// Consolidation triggers once history grows past twice this value.
	MemoryWindow int    `yaml:"memory_window"`
	Workspace    string `yaml:"workspace"`
	// Stream selects the streaming provider call. Pointer so that an
	// explicit false survives applyDefaults.
	Stream *bool `yaml:"stream"`
	// ProgressEvery is the number of streamed chunks between partial
	// updates pushed to the channel.
	ProgressEvery int `yaml:"progress_every"`
}

// Streaming reports whether the streaming provider call is enabled.
func (a AgentConfig) Streaming() bool {
	return a.Stream == nil || *a.Stream
}

// ProviderConfig is the OpenAI-compatible endpoint settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	APIBase    string `yaml:"api_base"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Configured reports whether an API key is present.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (a AnthropicConfig) Configured() bool {
	return a.APIKey != ""
}

// ModelRoute pins a model name to a provider ("openai" or "anthropic").
type ModelRoute struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// ToolsConfig holds tool behavior settings.
type ToolsConfig struct {
	// ShellTimeout is the exec tool timeout in seconds.
	ShellTimeout int `yaml:"shell_timeout"`
	// RestrictToWorkspace confines file and shell tools to the workspace.
	RestrictToWorkspace *bool `yaml:"restrict_to_workspace"`
	// DeniedPatterns are extra regular expressions for commands the
	// exec tool refuses, added to the built-in list.
	DeniedPatterns []string  `yaml:"denied_patterns"`
	Web            WebConfig `yaml:"web"`
}

// Restricted reports whether file and shell tools are confined to the
// workspace. Defaults to true.
func (t ToolsConfig) Restricted() bool {
	return t.RestrictToWorkspace == nil || *t.RestrictToWorkspace
}

// WebConfig configures web_fetch and web_search.
type WebConfig struct {
	BraveAPIKey   string `yaml:"brave_api_key"`
	SearXNGURL    string `yaml:"searxng_url"`
	FetchMaxChars int    `yaml:"fetch_max_chars"`
}

// ChannelsConfig groups chat channel adapters.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	CLI       CLIConfig       `yaml:"cli"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// AllowFrom lists user ids or usernames permitted to talk to the
	// bot. Empty allows everyone.
	AllowFrom []string `yaml:"allow_from"`
}

// Configured reports whether the channel is enabled with a token.
func (t TelegramConfig) Configured() bool {
	return t.Enabled && t.Token != ""
}

// CLIConfig configures the terminal channel.
type CLIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig configures the gateway WebSocket chat channel.
type WebSocketConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig configures the MQTT chat channel.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether the channel is enabled with a broker.
func (m MQTTConfig) Configured() bool {
	return m.Enabled && m.Broker != ""
}

// GatewayConfig defines the HTTP API listener.
type GatewayConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// credentials.
func Default() *Config {
	cfg := &Config{
		Provider: ProviderConfig{Model: "gpt-4o-mini"},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.Model == "" {
		c.Agent.Model = c.Provider.Model
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 8192
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.7
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.MemoryWindow <= 0 {
		c.Agent.MemoryWindow = 50
	}
	if c.Agent.Workspace == "" {
		c.Agent.Workspace = filepath.Join(Home(), "workspace")
	}
	c.Agent.Workspace = ExpandHome(c.Agent.Workspace)
	if c.Agent.ProgressEvery <= 0 {
		c.Agent.ProgressEvery = 10
	}

	if c.Provider.APIBase == "" {
		c.Provider.APIBase = "https://api.openai.com/v1"
	}
	c.Provider.APIBase = strings.TrimRight(c.Provider.APIBase, "/")
	if c.Provider.TimeoutSec <= 0 {
		c.Provider.TimeoutSec = 120
	}

	for i := range c.Models {
		if c.Models[i].Provider == "" {
			c.Models[i].Provider = "openai"
		}
	}

	if c.Tools.ShellTimeout <= 0 {
		c.Tools.ShellTimeout = 60
	}
	if c.Tools.Web.FetchMaxChars <= 0 {
		c.Tools.Web.FetchMaxChars = 10000
	}

	if c.Channels.MQTT.TopicPrefix == "" {
		c.Channels.MQTT.TopicPrefix = "santoso"
	}
	if c.Channels.MQTT.ClientID == "" {
		c.Channels.MQTT.ClientID = "santoso"
	}

	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18790
	}

	if c.DataDir == "" {
		c.DataDir = filepath.Join(filepath.Dir(c.Agent.Workspace), "data")
	}
	c.DataDir = ExpandHome(c.DataDir)

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks for values that would make the service misbehave.
// Missing credentials are not errors here; commands that need them
// check [ProviderConfig.Configured] themselves.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q invalid (expected text or json)", c.LogFormat)
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("agent.temperature %.2f out of range [0, 2]", c.Agent.Temperature)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models: entry with empty name")
		}
		if m.Provider != "openai" && m.Provider != "anthropic" {
			return fmt.Errorf("models: %s has unknown provider %q", m.Name, m.Provider)
		}
	}
	if c.Channels.MQTT.Enabled && c.Channels.MQTT.Broker == "" {
		return fmt.Errorf("channels.mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	return paths.ExpandHome(path)
}

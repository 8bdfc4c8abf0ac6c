// Package config loads agent configuration from a YAML file and turns it
// into provider, server, and agent settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"gopkg.in/yaml.v3"

	mcpagent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

// Duration parses Go duration syntax ("90s", "2m") from YAML scalars.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Provider kinds accepted in the llm section.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Environment variables consulted when no api_key is configured.
const (
	anthropicKeyEnv = "ANTHROPIC_API_KEY"
	openaiKeyEnv    = "OPENAI_API_KEY"
)

// Config is the root of the YAML configuration file.
//
//	llm:
//	  provider: anthropic
//	  model: claude-sonnet-4-5
//	mcp_servers:
//	  filesystem:
//	    command: mcp-server-fs
//	    args: ["--path", "."]
//	agent:
//	  max_tool_chain: 8
//	  tool_call_timeout: 60s
type Config struct {
	LLM           LLM                    `yaml:"llm"`
	Servers       map[string]ServerEntry `yaml:"mcp_servers"`
	DefaultServer string                 `yaml:"default_server"`
	Agent         AgentSettings          `yaml:"agent"`
}

// LLM selects and configures the provider.
type LLM struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// APIKey, when empty, falls back to the provider's conventional
	// environment variable.
	APIKey string `yaml:"api_key"`

	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int64  `yaml:"max_tokens"`
}

// ServerEntry configures one MCP server subprocess.
type ServerEntry struct {
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	WorkingDirectory string            `yaml:"working_directory"`
	Env              map[string]string `yaml:"env"`
}

// AgentSettings tunes the turn loop. Durations use Go syntax ("90s",
// "2m"). Zero values keep the package defaults.
type AgentSettings struct {
	MaxToolChain    int      `yaml:"max_tool_chain"`
	ToolCallTimeout Duration `yaml:"tool_call_timeout"`
	ProviderTimeout Duration `yaml:"provider_timeout"`
	TurnTimeout     Duration `yaml:"turn_timeout"`
	Sequential      bool     `yaml:"sequential_tools"`
	AllowedTools    []string `yaml:"allowed_tools"`
	DisabledTools   []string `yaml:"disabled_tools"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural requirements; it does not reach the network.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	for id, entry := range c.Servers {
		if entry.Command == "" {
			return fmt.Errorf("mcp_servers.%s: command is required", id)
		}
	}
	if c.DefaultServer != "" {
		if _, ok := c.Servers[c.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not a configured server", c.DefaultServer)
		}
	}
	return nil
}

// APIKey returns the configured key or the provider's environment
// fallback.
func (c *Config) APIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	switch c.LLM.Provider {
	case ProviderAnthropic:
		return os.Getenv(anthropicKeyEnv)
	case ProviderOpenAI:
		return os.Getenv(openaiKeyEnv)
	}
	return ""
}

// ServerConfigs converts the server entries for mcp.NewManager.
func (c *Config) ServerConfigs() map[string]mcp.ServerConfig {
	out := make(map[string]mcp.ServerConfig, len(c.Servers))
	for id, entry := range c.Servers {
		out[id] = mcp.ServerConfig{
			Command:          entry.Command,
			Args:             entry.Args,
			WorkingDirectory: entry.WorkingDirectory,
			Env:              entry.Env,
		}
	}
	return out
}

// NewProvider builds the configured provider.
func (c *Config) NewProvider() (provider.Provider, error) {
	key := c.APIKey()
	switch c.LLM.Provider {
	case ProviderAnthropic:
		var opts []provider.AnthropicOption
		if c.LLM.Model != "" {
			opts = append(opts, provider.WithAnthropicModel(anthropic.Model(c.LLM.Model)))
		}
		if c.LLM.MaxTokens > 0 {
			opts = append(opts, provider.WithAnthropicMaxTokens(c.LLM.MaxTokens))
		}
		if c.LLM.SystemPrompt != "" {
			opts = append(opts, provider.WithAnthropicSystemPrompt(c.LLM.SystemPrompt))
		}
		return provider.NewAnthropic(key, opts...), nil
	case ProviderOpenAI:
		var opts []provider.OpenAIOption
		if c.LLM.Model != "" {
			opts = append(opts, provider.WithOpenAIModel(openai.ChatModel(c.LLM.Model)))
		}
		if c.LLM.SystemPrompt != "" {
			opts = append(opts, provider.WithOpenAISystemPrompt(c.LLM.SystemPrompt))
		}
		return provider.NewOpenAI(key, opts...), nil
	}
	return nil, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
}

// AgentOptions converts the agent section into options for
// mcpagent.NewAgent.
func (c *Config) AgentOptions() []mcpagent.AgentOption {
	var opts []mcpagent.AgentOption
	if c.Agent.MaxToolChain > 0 {
		opts = append(opts, mcpagent.WithMaxToolChain(c.Agent.MaxToolChain))
	}
	if c.Agent.ToolCallTimeout > 0 {
		opts = append(opts, mcpagent.WithToolCallTimeout(time.Duration(c.Agent.ToolCallTimeout)))
	}
	if c.Agent.ProviderTimeout > 0 {
		opts = append(opts, mcpagent.WithProviderTimeout(time.Duration(c.Agent.ProviderTimeout)))
	}
	if c.Agent.TurnTimeout > 0 {
		opts = append(opts, mcpagent.WithTurnTimeout(time.Duration(c.Agent.TurnTimeout)))
	}
	if c.Agent.Sequential {
		opts = append(opts, mcpagent.WithSequentialDispatch())
	}
	if len(c.Agent.AllowedTools) > 0 {
		opts = append(opts, mcpagent.WithAllowedTools(c.Agent.AllowedTools...))
	}
	if len(c.Agent.DisabledTools) > 0 {
		opts = append(opts, mcpagent.WithDisabledTools(c.Agent.DisabledTools...))
	}
	return opts
}

package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultAgentID names the agent preset seeded into a fresh config when no
// agents are configured and none is requested by name.
const DefaultAgentID = "default"

// Default returns a Config with sensible defaults, matching the original
// system's seeded "default" agent (claude-sonnet-4 with a baseline coding
// tool set).
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8790,
		},
		DefaultAgent: DefaultAgentID,
		Agents: map[string]AgentConfig{
			DefaultAgentID: {
				Name:         DefaultAgentID,
				Model:        "anthropic/claude-sonnet-4",
				SystemPrompt: "You are a helpful assistant.",
				Tools:        FlexibleStringSlice{"bash", "read", "write", "edit"},
			},
		},
		Compaction: CompactionConfig{
			Enabled:          true,
			ReserveTokens:    20000,
			KeepRecentTokens: 8000,
		},
		Retry: RetryConfig{
			Enabled:     true,
			MaxRetries:  3,
			BaseDelayMS: 2000,
			MaxDelayMS:  60000,
		},
		Database: DatabaseConfig{
			Path: ExpandHome("~/.aobot/gateway.db"),
		},
	}
}

// Load reads config from a JSON5 file (comments and trailing commas
// tolerated), falling back to defaults if the file does not exist, then
// overlays secrets from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and are the only source for API keys and
// channel bot tokens, so the config file never carries those. The gateway
// auth token can come from either the file or AOBOT_GATEWAY_TOKEN.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AOBOT_GATEWAY_TOKEN", &c.Gateway.AuthToken)
	envStr("AOBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("AOBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("AOBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AOBOT_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("AOBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AOBOT_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)

	envStr("AOBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AOBOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("AOBOT_DATABASE_PATH", &c.Database.Path)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after a config.set RPC replaces the in-memory config, so
// runtime secrets (which are never accepted over that RPC) are restored
// from the environment.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secrets tagged `json:"-"` (API
// keys, channel bot tokens) are never serialized; gateway.auth_token is
// written like any other field.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveAgent returns the named agent config, or a hard-coded baseline
// agent if name is unconfigured. This matches the original system's
// fallback in session creation: an unknown agent name never fails session
// creation outright.
func (c *Config) ResolveAgent(name string) AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if agent, ok := c.Agents[name]; ok {
		return agent
	}
	return AgentConfig{
		Name:         name,
		Model:        "anthropic/claude-sonnet-4",
		SystemPrompt: "You are a helpful assistant.",
		Tools:        FlexibleStringSlice{"bash", "read", "write", "edit"},
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

func shortHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

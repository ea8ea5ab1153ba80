// Package config loads and holds the gateway's configuration document: the
// bind address and auth token, named agents, named channels, and the
// compaction/retry policies the session manager applies.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching the
// tolerance the teacher's config loader gives hand-edited config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gateway.
type Config struct {
	Gateway      GatewayConfig           `json:"gateway"`
	DefaultAgent string                  `json:"default_agent"`
	Agents       map[string]AgentConfig  `json:"agents"`
	Channels     ChannelsConfig          `json:"channels"`
	Compaction   CompactionConfig        `json:"compaction"`
	Retry        RetryConfig             `json:"retry"`
	Database     DatabaseConfig          `json:"database"`
	Providers    ProvidersConfig         `json:"providers"`
	mu           sync.RWMutex
}

// GatewayConfig configures the WebSocket JSON-RPC front end.
type GatewayConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AuthToken string `json:"auth_token,omitempty"` // from the file; AOBOT_GATEWAY_TOKEN overrides it when set
}

// AgentConfig is one named agent preset.
type AgentConfig struct {
	Name         string              `json:"name"`
	Model        string              `json:"model"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	Tools        FlexibleStringSlice `json:"tools,omitempty"`
}

// CompactionConfig controls the session manager's auto-compaction policy.
type CompactionConfig struct {
	Enabled          bool  `json:"enabled"`
	ReserveTokens    int64 `json:"reserve_tokens"`
	KeepRecentTokens int64 `json:"keep_recent_tokens"`
}

// RetryConfig controls the provider client's exponential backoff policy.
type RetryConfig struct {
	Enabled     bool  `json:"enabled"`
	MaxRetries  int   `json:"max_retries"`
	BaseDelayMS int64 `json:"base_delay_ms"`
	MaxDelayMS  int64 `json:"max_delay_ms"`
}

// DatabaseConfig configures the SQLite-backed session store.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ProvidersConfig carries per-provider secrets. API keys are never read from
// the config file — only from environment variables — so the file itself
// can be committed or shared without leaking credentials.
type ProvidersConfig struct {
	Anthropic ProviderCreds `json:"anthropic,omitempty"`
	OpenAI    ProviderCreds `json:"openai,omitempty"`
}

// ProviderCreds holds an API key and optional base URL override.
type ProviderCreds struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
}

// ChannelsConfig contains per-channel-type configuration. Telegram and
// Discord have first-class fields because their adapters need
// transport-specific settings (bot token, allow-list); arbitrary additional
// channel types run as external plugin subprocesses and carry only the
// opaque settings their process needs.
type ChannelsConfig struct {
	Telegram TelegramConfig                   `json:"telegram,omitempty"`
	Discord  DiscordConfig                    `json:"discord,omitempty"`
	External map[string]ExternalChannelConfig `json:"external,omitempty"`
}

// TelegramConfig configures the built-in Telegram long-polling channel.
type TelegramConfig struct {
	Enabled      bool                `json:"enabled"`
	Token        string              `json:"-"` // from env AOBOT_TELEGRAM_TOKEN only
	AllowFrom    FlexibleStringSlice `json:"allow_from,omitempty"`
	DefaultAgent string              `json:"default_agent,omitempty"`
}

// DiscordConfig configures the built-in Discord gateway channel.
type DiscordConfig struct {
	Enabled      bool                `json:"enabled"`
	Token        string              `json:"-"` // from env AOBOT_DISCORD_TOKEN only
	AllowFrom    FlexibleStringSlice `json:"allow_from,omitempty"`
	DefaultAgent string              `json:"default_agent,omitempty"`
}

// ExternalChannelConfig configures one external channel plugin, launched as
// a subprocess speaking the NDJSON JSON-RPC protocol (§4.3).
type ExternalChannelConfig struct {
	Enabled      bool              `json:"enabled"`
	Command      string            `json:"command"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	DefaultAgent string            `json:"default_agent,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by SetConfig so existing holders of *Config observe the update.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.DefaultAgent = src.DefaultAgent
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Compaction = src.Compaction
	c.Retry = src.Retry
	c.Database = src.Database
	c.Providers = src.Providers
}

// Clone returns a deep-enough copy for safe handoff across the config.get
// RPC boundary.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agents := make(map[string]AgentConfig, len(c.Agents))
	for k, v := range c.Agents {
		agents[k] = v
	}
	external := make(map[string]ExternalChannelConfig, len(c.Channels.External))
	for k, v := range c.Channels.External {
		external[k] = v
	}
	clone := &Config{
		Gateway:      c.Gateway,
		DefaultAgent: c.DefaultAgent,
		Agents:       agents,
		Channels:     ChannelsConfig{Telegram: c.Channels.Telegram, Discord: c.Channels.Discord, External: external},
		Compaction:   c.Compaction,
		Retry:        c.Retry,
		Database:     c.Database,
		Providers:    c.Providers,
	}
	return clone
}

// DefaultAgentName returns the configured fallback agent name.
func (c *Config) DefaultAgentName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultAgent
}

// ProviderCreds returns a copy of the configured provider credentials.
func (c *Config) ProviderCreds() ProvidersConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers
}

// CompactionPolicy returns a copy of the configured compaction policy.
func (c *Config) CompactionPolicy() CompactionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compaction
}

// RetryPolicy returns a copy of the configured provider retry policy.
func (c *Config) RetryPolicy() RetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Retry
}

// ListAgents returns a copy of the currently configured agent set.
func (c *Config) ListAgents() map[string]AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]AgentConfig, len(c.Agents))
	for k, v := range c.Agents {
		out[k] = v
	}
	return out
}

// SetAgent adds or replaces an agent definition.
func (c *Config) SetAgent(name string, agent AgentConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents[name] = agent
}

// DeleteAgent removes an agent definition. Returns true if it existed.
func (c *Config) DeleteAgent(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Agents[name]; !ok {
		return false
	}
	delete(c.Agents, name)
	return true
}

// ToProviderRetryConfig converts the config's RetryConfig into the shape
// internal/providers expects.
func (r RetryConfig) ToProviderRetryConfig() (enabled bool, maxRetries int, baseDelayMS, maxDelayMS int64) {
	return r.Enabled, r.MaxRetries, r.BaseDelayMS, r.MaxDelayMS
}

// Hash returns a short SHA-256 prefix of the config, for optimistic
// concurrency checks on config.set.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	return shortHash(data)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_SeedsBaselineAgent(t *testing.T) {
	cfg := Default()
	agent, ok := cfg.Agents[DefaultAgentID]
	if !ok {
		t.Fatal("expected a default agent to be seeded")
	}
	if agent.Model == "" {
		t.Error("default agent has no model")
	}
	if !cfg.Compaction.Enabled {
		t.Error("expected compaction enabled by default")
	}
	if !cfg.Retry.Enabled || cfg.Retry.MaxRetries != 3 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8790 {
		t.Errorf("Port = %d, want 8790", cfg.Gateway.Port)
	}
}

func TestLoad_ParsesJSON5WithCommentsAndTrailingCommas(t *testing.T) {
	doc := `{
		// gateway bind settings
		gateway: { host: "127.0.0.1", port: 9000, },
		default_agent: "research",
		agents: {
			research: { name: "research", model: "anthropic/claude-opus-4", },
		},
	}`
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 9000 {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.DefaultAgent != "research" {
		t.Errorf("DefaultAgent = %q, want research", cfg.DefaultAgent)
	}
	if cfg.Agents["research"].Model != "anthropic/claude-opus-4" {
		t.Errorf("unexpected research agent: %+v", cfg.Agents["research"])
	}
}

func TestResolveAgent_FallsBackToBaseline(t *testing.T) {
	cfg := Default()
	agent := cfg.ResolveAgent("unknown-agent")
	if agent.Name != "unknown-agent" {
		t.Errorf("Name = %q, want unknown-agent", agent.Name)
	}
	if len(agent.Tools) == 0 {
		t.Error("expected baseline tool set on fallback agent")
	}
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Port = 9999
	cfg.Agents["extra"] = AgentConfig{Name: "extra", Model: "openai/gpt-4o"}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Gateway.Port != 9999 {
		t.Errorf("Port = %d, want 9999", loaded.Gateway.Port)
	}
	if loaded.Agents["extra"].Model != "openai/gpt-4o" {
		t.Errorf("unexpected extra agent: %+v", loaded.Agents["extra"])
	}
}

func TestClone_IsIndependentOfSource(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Agents["new"] = AgentConfig{Name: "new"}

	if _, ok := cfg.Agents["new"]; ok {
		t.Error("mutating clone's agent map affected the source config")
	}
}

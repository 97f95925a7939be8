package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Context.MaxEntriesPerTier != 10 {
		t.Errorf("MaxEntriesPerTier = %d, want 10", cfg.Context.MaxEntriesPerTier)
	}
	if cfg.Context.RecentEntriesCount != 5 {
		t.Errorf("RecentEntriesCount = %d, want 5", cfg.Context.RecentEntriesCount)
	}
	if cfg.Context.LLMThreshold != 30 {
		t.Errorf("LLMThreshold = %d, want 30", cfg.Context.LLMThreshold)
	}
	if !cfg.Context.EnableLLMSelection {
		t.Error("EnableLLMSelection should default to true")
	}
	if cfg.Memory.TokenThreshold != 4000 {
		t.Errorf("TokenThreshold = %d, want 4000", cfg.Memory.TokenThreshold)
	}
	if cfg.Agent.MaxIterations != 12 {
		t.Errorf("MaxIterations = %d, want 12", cfg.Agent.MaxIterations)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Context.MaxEntriesPerTier != 10 {
		t.Errorf("missing file should yield defaults, got MaxEntriesPerTier=%d", cfg.Context.MaxEntriesPerTier)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
llm:
  provider: openai
  model: gpt-4o-mini
context:
  llm_threshold: 50
memory:
  token_threshold: 8000
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", cfg.LLM.Provider)
	}
	if cfg.Context.LLMThreshold != 50 {
		t.Errorf("LLMThreshold = %d, want 50", cfg.Context.LLMThreshold)
	}
	if cfg.Memory.TokenThreshold != 8000 {
		t.Errorf("TokenThreshold = %d, want 8000", cfg.Memory.TokenThreshold)
	}
	// Untouched sections keep defaults
	if cfg.Context.MaxEntriesPerTier != 10 {
		t.Errorf("MaxEntriesPerTier = %d, want default 10", cfg.Context.MaxEntriesPerTier)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FABULA_MODEL", "env-model")
	t.Setenv("FABULA_DB", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Model != "env-model" {
		t.Errorf("Model = %q, want env-model", cfg.LLM.Model)
	}
	if cfg.Store.DatabasePath != "/tmp/env.db" {
		t.Errorf("DatabasePath = %q, want /tmp/env.db", cfg.Store.DatabasePath)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".fabula", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "round-trip-model"
	cfg.Memory.ChapterBuffer = 7

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.LLM.Model != "round-trip-model" {
		t.Errorf("Model = %q, want round-trip-model", loaded.LLM.Model)
	}
	if loaded.Memory.ChapterBuffer != 7 {
		t.Errorf("ChapterBuffer = %d, want 7", loaded.Memory.ChapterBuffer)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.MaxIterations = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_iterations")
	}

	cfg = DefaultConfig()
	cfg.Memory.TokenThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative token_threshold")
	}
}

func TestLLMTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.LLMTimeout(); got != 120*time.Second {
		t.Errorf("LLMTimeout = %v, want 120s", got)
	}

	cfg.LLM.Timeout = "garbage"
	if got := cfg.LLMTimeout(); got != 2*time.Minute {
		t.Errorf("LLMTimeout fallback = %v, want 2m", got)
	}
}

// Package config loads and watches fabula configuration.
// Config lives in .fabula/config.yaml under the story workspace; every value
// has a default so a missing file yields a working setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fabula configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Context tiering engine
	Context ContextConfig `yaml:"context"`

	// Chapter memory service
	Memory MemoryConfig `yaml:"memory"`

	// Retrieval phase
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Agentic lore management
	Agent AgentConfig `yaml:"agent"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Device-to-device sync
	Sync SyncConfig `yaml:"sync"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model-invocation client.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // gemini, openai
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ContextConfig configures the context tiering engine.
type ContextConfig struct {
	MaxEntriesPerTier  int  `yaml:"max_entries_per_tier"` // Cap per tier-1 category and per tier (default 10)
	RecentEntriesCount int  `yaml:"recent_entries_count"` // Entries scanned for tier-2 name matches (default 5)
	LLMThreshold       int  `yaml:"llm_threshold"`        // Remaining-candidate count that triggers tier 3 (default 30)
	EnableLLMSelection bool `yaml:"enable_llm_selection"`
}

// MemoryConfig configures chapter detection and summarization.
type MemoryConfig struct {
	TokenThreshold int `yaml:"token_threshold"` // Unchaptered tokens that trigger analysis (default 4000)
	ChapterBuffer  int `yaml:"chapter_buffer"`  // Most-recent entries never chaptered (default 10)
}

// RetrievalConfig configures the retrieval phase.
type RetrievalConfig struct {
	Enabled                 bool `yaml:"enabled"`
	AgenticChapterThreshold int  `yaml:"agentic_chapter_threshold"` // Chapter count that switches timeline fill to agentic retrieval (default 5)
	TimelineChapterCount    int  `yaml:"timeline_chapter_count"`    // Recent chapters used by timeline fill (default 3)
	MaxAgenticQueries       int  `yaml:"max_agentic_queries"`       // Question budget for agentic retrieval (default 6)
}

// AgentConfig configures the agentic mutation loop.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"` // Hard bound on loop steps (default 12)
	MaxBudget     float64 `yaml:"max_budget"`     // Cumulative cost ceiling in USD, 0 = unlimited
}

// StoreConfig configures the SQLite persistence layer.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SyncConfig configures the device-to-device sync server.
type SyncConfig struct {
	DeviceName string `yaml:"device_name"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fabula",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-2.5-flash",
			Timeout:   "120s",
			MaxTokens: 8192,
		},

		Context: ContextConfig{
			MaxEntriesPerTier:  10,
			RecentEntriesCount: 5,
			LLMThreshold:       30,
			EnableLLMSelection: true,
		},

		Memory: MemoryConfig{
			TokenThreshold: 4000,
			ChapterBuffer:  10,
		},

		Retrieval: RetrievalConfig{
			Enabled:                 true,
			AgenticChapterThreshold: 5,
			TimelineChapterCount:    3,
			MaxAgenticQueries:       6,
		},

		Agent: AgentConfig{
			MaxIterations: 12,
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".fabula", "fabula.db"),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the conventional config location under the current
// workspace.
func DefaultPath() string {
	return filepath.Join(".fabula", "config.yaml")
}

// Load loads configuration from a YAML file.
// Missing file returns defaults; environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides overrides file values with environment variables.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("FABULA_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("FABULA_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("FABULA_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if path := os.Getenv("FABULA_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// LLMTimeout parses the configured LLM timeout, falling back to two minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Context.MaxEntriesPerTier <= 0 {
		return fmt.Errorf("context.max_entries_per_tier must be positive, got %d", c.Context.MaxEntriesPerTier)
	}
	if c.Context.RecentEntriesCount < 0 {
		return fmt.Errorf("context.recent_entries_count must not be negative, got %d", c.Context.RecentEntriesCount)
	}
	if c.Memory.TokenThreshold <= 0 {
		return fmt.Errorf("memory.token_threshold must be positive, got %d", c.Memory.TokenThreshold)
	}
	if c.Memory.ChapterBuffer < 0 {
		return fmt.Errorf("memory.chapter_buffer must not be negative, got %d", c.Memory.ChapterBuffer)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "TOOLCLAW_"

type Config struct {
	Agent     AgentConfig   `json:"agent" envPrefix:"AGENT_"`
	ModelList []ModelConfig `json:"model_list"`
	Breaker   BreakerConfig `json:"breaker" envPrefix:"BREAKER_"`
	Tools     ToolsConfig   `json:"tools" envPrefix:"TOOLS_"`
	History   HistoryConfig `json:"history" envPrefix:"HISTORY_"`
	Cache     CacheConfig   `json:"cache" envPrefix:"CACHE_"`
	Storage   StorageConfig `json:"storage" envPrefix:"STORAGE_"`
	Log       LogConfig     `json:"log" envPrefix:"LOG_"`

	// round-robin cursor per model_name
	rr sync.Map
}

type AgentConfig struct {
	// Model and FallbackModel name entries of ModelList by model_name.
	Model         string `json:"model" env:"MODEL"`
	FallbackModel string `json:"fallback_model" env:"FALLBACK_MODEL"`
	// SummaryModel defaults to FallbackModel.
	SummaryModel string `json:"summary_model,omitempty" env:"SUMMARY_MODEL"`

	BaseCallLimit          int     `json:"base_call_limit" env:"BASE_CALL_LIMIT"`
	MaxComplexityFactor    int     `json:"max_complexity_factor" env:"MAX_COMPLEXITY_FACTOR"`
	ProviderTimeoutSeconds int     `json:"provider_timeout_seconds" env:"PROVIDER_TIMEOUT_SECONDS"`
	ToolSignatureWindow    int     `json:"tool_signature_window" env:"TOOL_SIGNATURE_WINDOW"`
	DefaultTool            string  `json:"default_tool" env:"DEFAULT_TOOL"`
	CacheEnabled           bool    `json:"cache_enabled" env:"CACHE_ENABLED"`
	SnapshotTTLHours       int     `json:"snapshot_ttl_hours" env:"SNAPSHOT_TTL_HOURS"`
	MaxContextTokens       int     `json:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	MaxTokens              int     `json:"max_tokens" env:"MAX_TOKENS"`
	Temperature            float64 `json:"temperature" env:"TEMPERATURE"`
	SystemPrompt           string  `json:"system_prompt,omitempty" env:"SYSTEM_PROMPT"`
}

func (c AgentConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c AgentConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}

// ModelConfig describes one callable model. Model is "vendor/model-id", e.g.
// "anthropic/claude-sonnet-4-5" or "groq/llama-3.3-70b-versatile". Several
// entries may share a ModelName; GetModelConfig rotates between them.
type ModelConfig struct {
	ModelName   string  `json:"model_name"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	APIBase     string  `json:"api_base,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

func (m ModelConfig) Validate() error {
	if strings.TrimSpace(m.ModelName) == "" {
		return errors.New("model_name is required")
	}
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("model is required for %q", m.ModelName)
	}
	return nil
}

// Vendor returns the part of Model before the first "/", or "" if Model has
// no vendor prefix.
func (m ModelConfig) Vendor() string {
	if i := strings.Index(m.Model, "/"); i > 0 {
		return strings.ToLower(m.Model[:i])
	}
	return ""
}

// ModelID is Model without its vendor prefix.
func (m ModelConfig) ModelID() string {
	if i := strings.Index(m.Model, "/"); i > 0 {
		return m.Model[i+1:]
	}
	return m.Model
}

type BreakerConfig struct {
	FailureThreshold        int `json:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ResetTimeoutSeconds     int `json:"reset_timeout_seconds" env:"RESET_TIMEOUT_SECONDS"`
	MonitoringPeriodSeconds int `json:"monitoring_period_seconds" env:"MONITORING_PERIOD_SECONDS"`
}

type ToolsConfig struct {
	MaxRetries       int             `json:"max_retries" env:"MAX_RETRIES"`
	RetryBaseDelayMs int             `json:"retry_base_delay_ms" env:"RETRY_BASE_DELAY_MS"`
	Workspace        string          `json:"workspace" env:"WORKSPACE"`
	MaxFileBytes     int64           `json:"max_file_bytes" env:"MAX_FILE_BYTES"`
	MaxSearchResults int             `json:"max_search_results" env:"MAX_SEARCH_RESULTS"`
	WebSearch        WebSearchConfig `json:"web_search" envPrefix:"WEB_SEARCH_"`
}

func (c ToolsConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

type WebSearchConfig struct {
	Enabled    bool   `json:"enabled" env:"ENABLED"`
	Endpoint   string `json:"endpoint" env:"ENDPOINT"`
	APIKey     string `json:"api_key,omitempty" env:"API_KEY"`
	MaxResults int    `json:"max_results" env:"MAX_RESULTS"`
}

type HistoryConfig struct {
	MaxTurns   int `json:"max_turns" env:"MAX_TURNS"`
	RecentKeep int `json:"recent_keep" env:"RECENT_KEEP"`
	TTLHours   int `json:"ttl_hours" env:"TTL_HOURS"`
}

func (c HistoryConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

type CacheConfig struct {
	TTLSeconds           int `json:"ttl_seconds" env:"TTL_SECONDS"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" env:"SWEEP_INTERVAL_SECONDS"`
}

type StorageConfig struct {
	Driver string `json:"driver" env:"DRIVER"`
	Path   string `json:"path" env:"PATH"`
}

type LogConfig struct {
	Level string `json:"level" env:"LEVEL"`
	JSON  bool   `json:"json" env:"JSON"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".toolclaw")
	return &Config{
		Agent: AgentConfig{
			Model:                  "primary",
			FallbackModel:          "fallback",
			BaseCallLimit:          5,
			MaxComplexityFactor:    3,
			ProviderTimeoutSeconds: 30,
			ToolSignatureWindow:    10,
			DefaultTool:            "search_codebase",
			CacheEnabled:           true,
			SnapshotTTLHours:       24,
			MaxContextTokens:       32000,
			MaxTokens:              4096,
			Temperature:            0.7,
		},
		ModelList: []ModelConfig{
			{ModelName: "primary", Model: "anthropic/claude-sonnet-4-5", MaxTokens: 4096, Temperature: 0.7},
			{ModelName: "fallback", Model: "groq/llama-3.1-8b-instant", MaxTokens: 1024, Temperature: 0.3},
		},
		Breaker: BreakerConfig{
			FailureThreshold:        5,
			ResetTimeoutSeconds:     60,
			MonitoringPeriodSeconds: 120,
		},
		Tools: ToolsConfig{
			MaxRetries:       3,
			RetryBaseDelayMs: 1000,
			Workspace:        ".",
			MaxFileBytes:     512 * 1024,
			MaxSearchResults: 20,
			WebSearch: WebSearchConfig{
				Endpoint:   "https://api.search.brave.com/res/v1/web/search",
				MaxResults: 5,
			},
		},
		History: HistoryConfig{
			MaxTurns:   50,
			RecentKeep: 4,
			TTLHours:   7 * 24,
		},
		Cache: CacheConfig{
			TTLSeconds:           300,
			SweepIntervalSeconds: 600,
		},
		Storage: StorageConfig{
			Driver: "bolt",
			Path:   filepath.Join(base, "state.bolt"),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads the JSON file at path over the defaults, then applies
// TOOLCLAW_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.ValidateModelList(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as indented JSON, creating parent directories.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) ValidateModelList() error {
	for i, m := range c.ModelList {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model_list[%d]: %w", i, err)
		}
	}
	return nil
}

// GetModelConfig returns an entry named name. When several entries share the
// name they are handed out round-robin.
func (c *Config) GetModelConfig(name string) (*ModelConfig, error) {
	var matches []int
	for i := range c.ModelList {
		if c.ModelList[i].ModelName == name {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("model %q not found in model_list", name)
	}
	if len(matches) == 1 {
		m := c.ModelList[matches[0]]
		return &m, nil
	}

	v, _ := c.rr.LoadOrStore(name, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1) - 1
	m := c.ModelList[matches[n%uint64(len(matches))]]
	return &m, nil
}

// WorkspacePath expands a leading "~" in the tools workspace.
func (c *Config) WorkspacePath() string {
	ws := c.Tools.Workspace
	if strings.HasPrefix(ws, "~") {
		home, _ := os.UserHomeDir()
		ws = filepath.Join(home, ws[1:])
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return ws
	}
	return abs
}

// Package config defines, loads, and validates the daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Kinara configuration.
type Config struct {
	// Data directory for the database and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Planning engine
	Planner PlannerConfig `json:"planner" mapstructure:"planner"`

	// Execution engine
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Two-tier action dispatcher
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	// AI provider configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// HTTP server for metrics and status
	HTTP HTTPConfig `json:"http" mapstructure:"http"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// PlannerConfig holds planning engine settings.
type PlannerConfig struct {
	StalenessDays   int    `json:"staleness_days" mapstructure:"staleness_days"`
	MaxActivePlans  int    `json:"max_active_plans" mapstructure:"max_active_plans"`
	MaxStepsPerPlan int    `json:"max_steps_per_plan" mapstructure:"max_steps_per_plan"`
	Interval        string `json:"interval" mapstructure:"interval"` // cron spec
}

// ExecutorConfig holds execution engine settings.
type ExecutorConfig struct {
	MaxRetries         int    `json:"max_retries" mapstructure:"max_retries"`
	StepTimeoutSeconds int    `json:"step_timeout_seconds" mapstructure:"step_timeout_seconds"`
	Interval           string `json:"interval" mapstructure:"interval"` // cron spec
}

// DispatchConfig holds two-tier dispatcher settings.
type DispatchConfig struct {
	MaxRemoteDispatchesPerDay int `json:"max_remote_dispatches_per_day" mapstructure:"max_remote_dispatches_per_day"`
	MaxComplexTurns           int `json:"max_complex_turns" mapstructure:"max_complex_turns"`
	EscalationThreshold       int `json:"escalation_threshold" mapstructure:"escalation_threshold"`
	EscalationCacheSize       int `json:"escalation_cache_size" mapstructure:"escalation_cache_size"`
	MaxTokens                 int `json:"max_tokens" mapstructure:"max_tokens"`
}

// AIConfig holds the two reasoning tiers.
type AIConfig struct {
	Local  LocalAIConfig  `json:"local" mapstructure:"local"`
	Remote RemoteAIConfig `json:"remote" mapstructure:"remote"`
}

// LocalAIConfig is the cheap tier, an OpenAI-compatible endpoint.
type LocalAIConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	Model   string `json:"model" mapstructure:"model"`
}

// RemoteAIConfig is the expensive tier.
type RemoteAIConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// HTTPConfig holds the observability HTTP server settings.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Planner: PlannerConfig{
			StalenessDays:   7,
			MaxActivePlans:  3,
			MaxStepsPerPlan: 7,
			Interval:        "@every 1h",
		},
		Executor: ExecutorConfig{
			MaxRetries:         3,
			StepTimeoutSeconds: 300,
			Interval:           "@every 5m",
		},
		Dispatch: DispatchConfig{
			MaxRemoteDispatchesPerDay: 10,
			MaxComplexTurns:           5,
			EscalationThreshold:       3,
			EscalationCacheSize:       256,
			MaxTokens:                 2048,
		},
		AI: AIConfig{
			Local: LocalAIConfig{
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3.2",
			},
			Remote: RemoteAIConfig{
				Model: "claude-sonnet-4-20250514",
			},
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8750,
		},
	}
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.AI.Local.APIKey != "" {
		masked.AI.Local.APIKey = "***"
	}
	if masked.AI.Remote.APIKey != "" {
		masked.AI.Remote.APIKey = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format for a known provider.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}

// ValidateLogLevel validates a log level.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMaxTokens validates a max tokens value.
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and returns every problem
// found rather than stopping at the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Planner.StalenessDays <= 0 {
		errors = append(errors, fmt.Errorf("planner.staleness_days must be positive"))
	}
	if cfg.Planner.MaxActivePlans <= 0 {
		errors = append(errors, fmt.Errorf("planner.max_active_plans must be positive"))
	}
	if cfg.Planner.MaxStepsPerPlan <= 0 {
		errors = append(errors, fmt.Errorf("planner.max_steps_per_plan must be positive"))
	}

	if cfg.Executor.MaxRetries <= 0 {
		errors = append(errors, fmt.Errorf("executor.max_retries must be positive"))
	}
	if cfg.Executor.StepTimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("executor.step_timeout_seconds must be positive"))
	}

	if cfg.Dispatch.MaxRemoteDispatchesPerDay < 0 {
		errors = append(errors, fmt.Errorf("dispatch.max_remote_dispatches_per_day must be >= 0"))
	}
	if cfg.Dispatch.MaxComplexTurns <= 0 {
		errors = append(errors, fmt.Errorf("dispatch.max_complex_turns must be positive"))
	}
	if cfg.Dispatch.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Dispatch.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("dispatch: %w", err))
		}
	}

	if cfg.AI.Remote.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.AI.Remote.APIKey, "anthropic"); err != nil {
			errors = append(errors, fmt.Errorf("ai.remote: %w", err))
		}
	}

	if cfg.HTTP.Enabled {
		if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
			errors = append(errors, fmt.Errorf("http.port must be between 1 and 65535"))
		}
	}

	return errors
}

package config

import (
	"fmt"
	"log/slog"
	"os"
)

// Validator validates configuration comprehensively with clear error
// messages. Fail-fast: stops at the first error.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation.
func (v *Validator) ValidateAll() error {
	if err := v.validateRunner(); err != nil {
		return fmt.Errorf("runner validation failed: %w", err)
	}
	if err := v.validateLimits(); err != nil {
		return fmt.Errorf("limits validation failed: %w", err)
	}
	if err := v.validatePrompt(); err != nil {
		return fmt.Errorf("prompt validation failed: %w", err)
	}
	if err := v.validateBridge(); err != nil {
		return fmt.Errorf("bridge validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateRunner() error {
	r := v.cfg.Runner
	if r.MaxRetries < 1 {
		return NewValidationError("runner", "max_retries", fmt.Errorf("must be at least 1"))
	}
	if r.MaxObstacleClearAttempts < 1 {
		return NewValidationError("runner", "max_obstacle_clear_attempts", fmt.Errorf("must be at least 1"))
	}
	if r.MaxLoopIterations < 1 {
		return NewValidationError("runner", "max_loop_iterations", fmt.Errorf("must be at least 1"))
	}
	if r.TestTimeout <= 0 {
		return NewValidationError("runner", "test_timeout", fmt.Errorf("must be positive"))
	}
	if r.ContextRetries < 1 {
		return NewValidationError("runner", "context_retries", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateLimits() error {
	l := v.cfg.Limits
	if l.MaxPerUser < 1 {
		return NewValidationError("limits", "max_per_user", fmt.Errorf("must be at least 1"))
	}
	if l.MaxGlobal < l.MaxPerUser {
		return NewValidationError("limits", "max_global", fmt.Errorf("must be >= max_per_user (%d)", l.MaxPerUser))
	}
	for field, val := range map[string]int{
		"user_per_minute": l.UserPerMinute,
		"ip_per_hour":     l.IPPerHour,
		"target_per_hour": l.TargetPerHour,
	} {
		if val < 1 {
			return NewValidationError("limits", field, fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *Validator) validatePrompt() error {
	p := v.cfg.Prompt
	if p.MaxInputLength < 1 {
		return NewValidationError("prompt", "max_input_length", fmt.Errorf("must be at least 1"))
	}
	if p.MaxContentLength < p.MaxTotalLength {
		return NewValidationError("prompt", "max_content_length",
			fmt.Errorf("must be >= max_total_length (%d)", p.MaxTotalLength))
	}
	return nil
}

func (v *Validator) validateBridge() error {
	b := v.cfg.Bridge
	if b.Command == "" {
		return NewValidationError("bridge", "command", fmt.Errorf("required"))
	}
	if b.CallTimeout <= 0 {
		return NewValidationError("bridge", "call_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", "type",
				fmt.Errorf("provider %q: unsupported type %q", name, provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", "model",
				fmt.Errorf("provider %q: required", name))
		}
		if provider.APIKeyEnv != "" && os.Getenv(provider.APIKeyEnv) == "" {
			slog.Warn("LLM provider API key env is unset; calls will fail until exported",
				"provider", name, "env", provider.APIKeyEnv)
		}
	}
	return nil
}

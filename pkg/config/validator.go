package config

import (
	"fmt"
	"strings"
)

// SettingsValidator validates settings comprehensively with clear error messages
type SettingsValidator struct {
	cfg *Settings
}

// NewValidator creates a validator for the given settings
func NewValidator(cfg *Settings) *SettingsValidator {
	return &SettingsValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *SettingsValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateAgents(); err != nil {
		return err
	}
	if err := v.validateGemini(); err != nil {
		return err
	}
	if err := v.validateStores(); err != nil {
		return err
	}
	if err := v.validateSecurity(); err != nil {
		return err
	}
	if err := v.validateFaultHandling(); err != nil {
		return err
	}
	if err := v.validateOperational(); err != nil {
		return err
	}
	return nil
}

func (v *SettingsValidator) validateServer() error {
	if v.cfg.Server.Port < 1 || v.cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Server.Port))
	}
	return nil
}

func (v *SettingsValidator) validateAgents() error {
	a := v.cfg.Agents
	if a.NumAgents < 1 || a.NumAgents > 10 {
		return NewValidationError("agents", "num_agents", fmt.Errorf("%w: must be 1-10, got %d", ErrInvalidValue, a.NumAgents))
	}
	if a.DefaultTurns < 0 {
		return NewValidationError("agents", "default_turns", fmt.Errorf("%w: must be >= 0, got %d", ErrInvalidValue, a.DefaultTurns))
	}
	if !a.ConsensusAlgorithm.IsValid() {
		return NewValidationError("agents", "consensus_algorithm", fmt.Errorf("%w: %q", ErrInvalidValue, a.ConsensusAlgorithm))
	}
	// Parse eagerly so a malformed models_config fails at boot, not mid-conversation.
	if _, err := v.cfg.AgentConfigs(); err != nil {
		return err
	}
	return nil
}

func (v *SettingsValidator) validateGemini() error {
	g := v.cfg.Gemini
	if g.Model == "" {
		return NewValidationError("gemini", "model", ErrMissingRequiredField)
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return NewValidationError("gemini", "temperature", fmt.Errorf("%w: must be 0-2, got %v", ErrInvalidValue, g.Temperature))
	}
	if g.MaxTokens < 1 {
		return NewValidationError("gemini", "max_tokens", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, g.MaxTokens))
	}
	if g.Timeout <= 0 {
		return NewValidationError("gemini", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *SettingsValidator) validateStores() error {
	if v.cfg.Redis.Port < 1 || v.cfg.Redis.Port > 65535 {
		return NewValidationError("redis", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Redis.Port))
	}
	if v.cfg.Redis.StreamMaxLen < 1 {
		return NewValidationError("redis", "stream_maxlen", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if v.cfg.Redis.Retention <= 0 {
		return NewValidationError("redis", "retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if v.cfg.Postgres.Port < 1 || v.cfg.Postgres.Port > 65535 {
		return NewValidationError("postgres", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Postgres.Port))
	}
	if v.cfg.Postgres.Database == "" {
		return NewValidationError("postgres", "database", ErrMissingRequiredField)
	}

	if v.cfg.Qdrant.Enabled {
		if v.cfg.Qdrant.Port < 1 || v.cfg.Qdrant.Port > 65535 {
			return NewValidationError("qdrant", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Qdrant.Port))
		}
		if v.cfg.Qdrant.Collection == "" {
			return NewValidationError("qdrant", "collection", ErrMissingRequiredField)
		}
		if v.cfg.Qdrant.VectorSize < 1 {
			return NewValidationError("qdrant", "vector_size", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
		}
	}
	return nil
}

func (v *SettingsValidator) validateSecurity() error {
	rl := v.cfg.Security.RateLimit
	if rl.Requests < 1 {
		return NewValidationError("security", "rate_limit.requests", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if rl.Window <= 0 {
		return NewValidationError("security", "rate_limit.window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if rl.Burst < 0 {
		return NewValidationError("security", "rate_limit.burst", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if _, err := v.cfg.BootstrapAPIKeys(); err != nil {
		return err
	}
	return nil
}

func (v *SettingsValidator) validateFaultHandling() error {
	r := v.cfg.Retry
	if r.MaxAttempts < 1 {
		return NewValidationError("retry", "max_attempts", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if r.BaseDelay <= 0 {
		return NewValidationError("retry", "base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.MaxDelay < r.BaseDelay {
		return NewValidationError("retry", "max_delay", fmt.Errorf("%w: must be >= base_delay", ErrInvalidValue))
	}

	b := v.cfg.Breaker
	if b.FailureThreshold < 1 {
		return NewValidationError("circuit_breaker", "failure_threshold", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if b.Timeout <= 0 {
		return NewValidationError("circuit_breaker", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if b.SuccessThreshold < 1 {
		return NewValidationError("circuit_breaker", "success_threshold", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}

func (v *SettingsValidator) validateOperational() error {
	if v.cfg.Health.Timeout <= 0 {
		return NewValidationError("health", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.Cleanup.RetentionDays < 1 {
		return NewValidationError("cleanup", "retention_days", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if v.cfg.Cleanup.Interval <= 0 {
		return NewValidationError("cleanup", "interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	switch strings.ToUpper(v.cfg.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return NewValidationError("log_level", "", fmt.Errorf("%w: %q", ErrInvalidValue, v.cfg.LogLevel))
	}
	return nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load assembles, merges, and validates the runtime settings.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load the YAML file at path, if path is non-empty (strict: unknown
//     keys are rejected)
//  3. Merge file values over defaults
//  4. Apply flat environment variable overrides
//  5. Validate the result
func Load(path string) (*Settings, error) {
	cfg := Default()

	if path != "" {
		fileCfg := &Settings{}
		if err := loadYAML(path, fileCfg); err != nil {
			return nil, NewLoadError(path, err)
		}
		// Non-zero file values override defaults; unset keys keep them.
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("merging configuration: %w", err))
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// An explicitly emptied origin list means "any origin".
	if len(cfg.CORS.Origins) == 0 {
		cfg.CORS.Origins = []string{"*"}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration loaded",
		"num_agents", cfg.Agents.NumAgents,
		"default_turns", cfg.Agents.DefaultTurns,
		"consensus_algorithm", cfg.Agents.ConsensusAlgorithm,
		"qdrant_enabled", cfg.Qdrant.Enabled,
		"rate_limiting", cfg.Security.RateLimitingEnabled,
		"debug", cfg.Debug)

	return cfg, nil
}

// loadYAML reads and strictly decodes one YAML file into target.
func loadYAML(path string, target *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file is fine
		}
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// validate performs comprehensive validation on loaded settings
func validate(cfg *Settings) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentModelConfig is the resolved model assignment for one agent.
type AgentModelConfig struct {
	AgentID     string
	Model       string
	Temperature float64
	Personality string
}

// agentModelJSON is the wire shape of one models_config entry. Temperature
// is a pointer so an explicit 0 survives default resolution.
type agentModelJSON struct {
	AgentID     string   `json:"agent_id"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	Personality string   `json:"personality"`
}

// AgentConfigs returns the per-agent model assignments. Without a
// models_config the first NumAgents ids (agent_0, agent_1, ...) share the
// default Gemini model and temperature; otherwise the JSON list is parsed
// and unset temperatures fall back to the Gemini default.
func (s *Settings) AgentConfigs() ([]AgentModelConfig, error) {
	raw := strings.TrimSpace(s.Agents.ModelsConfig)
	if raw == "" {
		out := make([]AgentModelConfig, s.Agents.NumAgents)
		for i := range out {
			out[i] = AgentModelConfig{
				AgentID:     fmt.Sprintf("agent_%d", i),
				Model:       s.Gemini.Model,
				Temperature: s.Gemini.Temperature,
			}
		}
		return out, nil
	}

	var entries []agentModelJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, NewValidationError("agents", "models_config",
			fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}

	out := make([]AgentModelConfig, 0, len(entries))
	for i, e := range entries {
		if e.AgentID == "" {
			return nil, NewValidationError("agents", "models_config",
				fmt.Errorf("%w: entry %d: agent_id", ErrMissingRequiredField, i))
		}
		if e.Model == "" {
			return nil, NewValidationError("agents", "models_config",
				fmt.Errorf("%w: entry %d: model", ErrMissingRequiredField, i))
		}
		cfg := AgentModelConfig{
			AgentID:     e.AgentID,
			Model:       e.Model,
			Temperature: s.Gemini.Temperature,
			Personality: e.Personality,
		}
		if e.Temperature != nil {
			cfg.Temperature = *e.Temperature
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ModelForAgent returns the model for a specific agent, falling back to
// the default Gemini model for unknown ids.
func (s *Settings) ModelForAgent(agentID string) string {
	configs, err := s.AgentConfigs()
	if err != nil {
		return s.Gemini.Model
	}
	for _, c := range configs {
		if c.AgentID == agentID {
			return c.Model
		}
	}
	return s.Gemini.Model
}

// BootstrapAPIKey is one pre-provisioned API key parsed from
// default_api_keys. Key may be empty, in which case one is generated and
// logged at boot.
type BootstrapAPIKey struct {
	Name        string   `json:"name"`
	Key         string   `json:"key"`
	Permissions []string `json:"permissions"`
}

// BootstrapAPIKeys parses the default_api_keys JSON list.
func (s *Settings) BootstrapAPIKeys() ([]BootstrapAPIKey, error) {
	raw := strings.TrimSpace(s.Security.DefaultAPIKeys)
	if raw == "" {
		return nil, nil
	}

	var keys []BootstrapAPIKey
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, NewValidationError("security", "default_api_keys",
			fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	for i, k := range keys {
		if k.Name == "" {
			return nil, NewValidationError("security", "default_api_keys",
				fmt.Errorf("%w: entry %d: name", ErrMissingRequiredField, i))
		}
	}
	return keys, nil
}

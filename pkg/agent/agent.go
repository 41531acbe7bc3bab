// Package agent implements the individual conversation participants: each
// agent holds a personality and a model binding and turns conversation
// history into one response per turn through the LLM gateway.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/llm"
	"github.com/polyagents/polyagents/pkg/models"
)

// historyWindow is how many trailing messages an agent sees when responding.
const historyWindow = 10

// Agent is one conversation participant. Immutable after construction, so a
// single Agent is safe to share across turns and goroutines.
type Agent struct {
	id          string
	model       string
	personality string
	temperature float64
	maxTokens   int
	gateway     llm.Gateway
}

// New creates an agent from its resolved model configuration. An empty
// personality resolves to the canonical default for the agent id.
func New(cfg config.AgentModelConfig, maxTokens int, gateway llm.Gateway) *Agent {
	personality := cfg.Personality
	if personality == "" {
		personality = DefaultPersonality(cfg.AgentID)
	}
	return &Agent{
		id:          cfg.AgentID,
		model:       cfg.Model,
		personality: personality,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		gateway:     gateway,
	}
}

// Team builds the full agent fan-out from settings, one agent per configured
// slot.
func Team(settings *config.Settings, gateway llm.Gateway) ([]*Agent, error) {
	configs, err := settings.AgentConfigs()
	if err != nil {
		return nil, err
	}

	agents := make([]*Agent, 0, len(configs))
	for _, cfg := range configs {
		agents = append(agents, New(cfg, settings.Gemini.MaxTokens, gateway))
	}
	return agents, nil
}

// ID returns the agent identifier ("agent_0", ...), used as message sender.
func (a *Agent) ID() string {
	return a.id
}

// Model returns the model the agent completes with.
func (a *Agent) Model() string {
	return a.model
}

// Respond produces the agent's contribution for the current turn from the
// conversation so far. Gateway errors pass through unchanged; callers decide
// how a failed agent affects the turn.
func (a *Agent) Respond(ctx context.Context, history []*models.Message) (string, error) {
	prompt := a.buildPrompt(history)

	response, err := a.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       a.model,
		Prompt:      prompt,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", err
	}

	response = strings.TrimSpace(response)
	slog.Debug("Agent generated response", "agent_id", a.id, "length", len(response))
	return response, nil
}

// buildPrompt renders the personality header, the trailing history window,
// and the fixed role instruction.
func (a *Agent) buildPrompt(history []*models.Message) string {
	parts := make([]string, 0, historyWindow+2)
	parts = append(parts, "Agent Personality: "+a.personality+"\n")

	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	for _, m := range history[start:] {
		parts = append(parts, m.Sender+": "+m.Content)
	}

	parts = append(parts, fmt.Sprintf(
		"\nAs %s, provide your unique perspective on the conversation. "+
			"Consider the views of other agents but maintain your distinct personality and approach. "+
			"Provide a complete, thoughtful response that reflects your specific role and expertise. "+
			"Be thorough and ensure your response is complete - do not cut off mid-thought.",
		a.id,
	))

	return strings.Join(parts, "\n")
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_DefaultsPass(t *testing.T) {
	require.NoError(t, NewValidator(Default()).ValidateAll())
}

func TestValidator_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:    "num_agents too high",
			mutate:  func(s *Settings) { s.Agents.NumAgents = 11 },
			wantErr: "agents.num_agents",
		},
		{
			name:    "num_agents zero",
			mutate:  func(s *Settings) { s.Agents.NumAgents = 0 },
			wantErr: "agents.num_agents",
		},
		{
			name:    "negative turns",
			mutate:  func(s *Settings) { s.Agents.DefaultTurns = -1 },
			wantErr: "agents.default_turns",
		},
		{
			name:    "unknown algorithm",
			mutate:  func(s *Settings) { s.Agents.ConsensusAlgorithm = "coin_flip" },
			wantErr: "agents.consensus_algorithm",
		},
		{
			name:    "temperature out of range",
			mutate:  func(s *Settings) { s.Gemini.Temperature = 2.5 },
			wantErr: "gemini.temperature",
		},
		{
			name:    "bad server port",
			mutate:  func(s *Settings) { s.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero rate limit window",
			mutate:  func(s *Settings) { s.Security.RateLimit.Window = 0 },
			wantErr: "security.rate_limit.window",
		},
		{
			name:    "retry max below base",
			mutate:  func(s *Settings) { s.Retry.MaxDelay = 100 * time.Millisecond },
			wantErr: "retry.max_delay",
		},
		{
			name:    "breaker threshold zero",
			mutate:  func(s *Settings) { s.Breaker.FailureThreshold = 0 },
			wantErr: "circuit_breaker.failure_threshold",
		},
		{
			name:    "retention days zero",
			mutate:  func(s *Settings) { s.Cleanup.RetentionDays = 0 },
			wantErr: "cleanup.retention_days",
		},
		{
			name:    "unknown log level",
			mutate:  func(s *Settings) { s.LogLevel = "LOUD" },
			wantErr: "log_level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_QdrantCheckedOnlyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Qdrant.VectorSize = 0

	require.NoError(t, NewValidator(cfg).ValidateAll())

	cfg.Qdrant.Enabled = true
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant.vector_size")
}

func TestConsensusAlgorithm_IsValid(t *testing.T) {
	assert.True(t, AlgorithmMajorityVote.IsValid())
	assert.True(t, AlgorithmSemantic.IsValid())
	assert.True(t, AlgorithmSynthesis.IsValid())
	assert.False(t, ConsensusAlgorithm("").IsValid())
	assert.False(t, ConsensusAlgorithm("plurality").IsValid())
}

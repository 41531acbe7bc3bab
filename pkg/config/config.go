// Package config loads and validates the runtime settings for the
// polyagents server. Settings are assembled in three layers: built-in
// defaults, an optional YAML file, and flat environment variable
// overrides (NUM_AGENTS, GEMINI_API_KEY, REDIS_HOST, ...).
package config

import (
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Settings is the complete runtime configuration.
type Settings struct {
	Server   ServerConfig   `yaml:"server"`
	Agents   AgentsConfig   `yaml:"agents"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Security SecurityConfig `yaml:"security"`
	CORS     CORSConfig     `yaml:"cors"`
	Health   HealthConfig   `yaml:"health"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Events   EventsConfig   `yaml:"events"`
	LogLevel string         `yaml:"log_level"`
	Debug    bool           `yaml:"debug"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AgentsConfig controls how many agents join a conversation and how their
// replies are reduced to a final answer.
type AgentsConfig struct {
	NumAgents          int                `yaml:"num_agents"`
	DefaultTurns       int                `yaml:"default_turns"`
	ConsensusAlgorithm ConsensusAlgorithm `yaml:"consensus_algorithm"`

	// ModelsConfig is a JSON array of per-agent overrides:
	// [{"agent_id": "agent_0", "model": "...", "temperature": 0.2, "personality": "..."}]
	ModelsConfig string `yaml:"models_config"`
}

// GeminiConfig is the default LLM backend configuration. Per-agent model
// overrides come from AgentsConfig.ModelsConfig.
type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig locates the message bus and bounds its streams.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`

	// StreamMaxLen caps each conversation stream (approximate trim).
	StreamMaxLen int64 `yaml:"stream_maxlen"`

	// Retention is how long an idle conversation stream survives cleanup.
	Retention time.Duration `yaml:"retention"`
}

// Addr returns the host:port Redis address.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PostgresConfig locates the audit database.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the postgres:// connection string.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// QdrantConfig locates the optional vector store.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

// BaseURL returns the Qdrant REST endpoint.
func (c QdrantConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SecurityConfig controls authentication and rate limiting.
type SecurityConfig struct {
	// JWTSecretKey signs bearer tokens. When empty an ephemeral secret is
	// generated at boot and previously issued tokens stop verifying.
	JWTSecretKey string `yaml:"jwt_secret_key"`

	APIKeyEnabled       bool            `yaml:"api_key_enabled"`
	RateLimitingEnabled bool            `yaml:"rate_limiting_enabled"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`

	// DefaultAPIKeys is a JSON array of keys to provision at boot:
	// [{"name": "ops", "key": "pa_...", "permissions": ["read","write"]}]
	DefaultAPIKeys string `yaml:"default_api_keys"`
}

// RateLimitConfig is the fixed-window limiter tuning.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// CORSConfig is the browser cross-origin policy.
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
}

// HealthConfig tunes dependency health checks.
type HealthConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	ExternalServices bool          `yaml:"external_services"`
}

// RetryConfig tunes the shared retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BreakerConfig tunes the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// CleanupConfig tunes the retention sweeper.
type CleanupConfig struct {
	RetentionDays int           `yaml:"retention_days"`
	Interval      time.Duration `yaml:"interval"`
}

// EventsConfig tunes real-time event delivery.
type EventsConfig struct {
	// RelayEnabled mirrors bus messages into the WebSocket hub, so events
	// reach subscribers on replicas that are not running the conversation.
	RelayEnabled bool `yaml:"relay_enabled"`
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (s *Settings) SlogLevel() slog.Level {
	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}


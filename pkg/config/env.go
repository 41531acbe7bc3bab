package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays the flat environment variable surface onto cfg.
// Durations accept either a bare number of seconds ("30", "1.5") or a Go
// duration string ("90s", "1h").
func applyEnv(cfg *Settings) error {
	r := &envReader{}

	r.str("API_HOST", &cfg.Server.Host)
	r.intVal("API_PORT", &cfg.Server.Port)

	r.intVal("NUM_AGENTS", &cfg.Agents.NumAgents)
	r.intVal("DEFAULT_TURNS", &cfg.Agents.DefaultTurns)
	r.algorithm("CONSENSUS_ALGORITHM", &cfg.Agents.ConsensusAlgorithm)
	r.str("AGENT_MODELS_CONFIG", &cfg.Agents.ModelsConfig)

	r.str("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	r.str("GEMINI_BASE_URL", &cfg.Gemini.BaseURL)
	r.str("GEMINI_MODEL", &cfg.Gemini.Model)
	r.floatVal("GEMINI_TEMPERATURE", &cfg.Gemini.Temperature)
	r.intVal("GEMINI_MAX_TOKENS", &cfg.Gemini.MaxTokens)
	r.duration("GEMINI_TIMEOUT", &cfg.Gemini.Timeout)

	r.str("REDIS_HOST", &cfg.Redis.Host)
	r.intVal("REDIS_PORT", &cfg.Redis.Port)
	r.intVal("REDIS_DB", &cfg.Redis.DB)
	r.int64Val("REDIS_STREAM_MAXLEN", &cfg.Redis.StreamMaxLen)
	r.duration("REDIS_RETENTION", &cfg.Redis.Retention)

	r.str("POSTGRES_HOST", &cfg.Postgres.Host)
	r.intVal("POSTGRES_PORT", &cfg.Postgres.Port)
	r.str("POSTGRES_USER", &cfg.Postgres.User)
	r.str("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	r.str("POSTGRES_DB", &cfg.Postgres.Database)
	r.str("POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	r.boolVal("QDRANT_ENABLED", &cfg.Qdrant.Enabled)
	r.str("QDRANT_HOST", &cfg.Qdrant.Host)
	r.intVal("QDRANT_PORT", &cfg.Qdrant.Port)
	r.str("QDRANT_COLLECTION", &cfg.Qdrant.Collection)
	r.intVal("QDRANT_VECTOR_SIZE", &cfg.Qdrant.VectorSize)

	r.str("JWT_SECRET_KEY", &cfg.Security.JWTSecretKey)
	r.boolVal("API_KEY_ENABLED", &cfg.Security.APIKeyEnabled)
	r.boolVal("RATE_LIMITING_ENABLED", &cfg.Security.RateLimitingEnabled)
	r.intVal("RATE_LIMIT_REQUESTS", &cfg.Security.RateLimit.Requests)
	r.duration("RATE_LIMIT_WINDOW", &cfg.Security.RateLimit.Window)
	r.intVal("RATE_LIMIT_BURST", &cfg.Security.RateLimit.Burst)
	r.str("DEFAULT_API_KEYS", &cfg.Security.DefaultAPIKeys)

	r.list("CORS_ORIGINS", &cfg.CORS.Origins)
	r.boolVal("CORS_ALLOW_CREDENTIALS", &cfg.CORS.AllowCredentials)
	r.list("CORS_ALLOW_METHODS", &cfg.CORS.AllowMethods)
	r.list("CORS_ALLOW_HEADERS", &cfg.CORS.AllowHeaders)

	r.duration("HEALTH_CHECK_TIMEOUT", &cfg.Health.Timeout)
	r.duration("HEALTH_CHECK_CACHE_TTL", &cfg.Health.CacheTTL)
	r.boolVal("HEALTH_CHECK_EXTERNAL_SERVICES", &cfg.Health.ExternalServices)

	r.intVal("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	r.duration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	r.duration("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)

	r.intVal("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	r.duration("CIRCUIT_BREAKER_TIMEOUT", &cfg.Breaker.Timeout)
	r.intVal("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)

	r.intVal("CLEANUP_RETENTION_DAYS", &cfg.Cleanup.RetentionDays)
	r.duration("CLEANUP_INTERVAL", &cfg.Cleanup.Interval)

	r.boolVal("EVENTS_RELAY_ENABLED", &cfg.Events.RelayEnabled)

	r.str("LOG_LEVEL", &cfg.LogLevel)
	r.boolVal("DEBUG", &cfg.Debug)

	return r.err()
}

// envReader applies environment overrides, accumulating parse errors so a
// bad deployment reports every problem at once.
type envReader struct {
	errs []error
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) fail(key, raw string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := os.LookupEnv(key); ok {
		*dst = raw
	}
}

func (r *envReader) intVal(key string, dst *int) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) int64Val(key string, dst *int64) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) floatVal(key string, dst *float64) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) boolVal(key string, dst *bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) duration(key string, dst *time.Duration) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := parseDuration(strings.TrimSpace(raw))
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) list(key string, dst *[]string) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (r *envReader) algorithm(key string, dst *ConsensusAlgorithm) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	*dst = ConsensusAlgorithm(strings.TrimSpace(raw))
}

// parseDuration accepts a bare number of seconds or a Go duration string.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("not a number of seconds or duration: %v", err)
	}
	return d, nil
}

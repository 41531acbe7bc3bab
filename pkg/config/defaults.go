package config

import "time"

// Default returns the built-in settings. Every value can be overridden by
// the YAML file or the flat environment surface.
func Default() *Settings {
	return &Settings{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Agents: AgentsConfig{
			NumAgents:          3,
			DefaultTurns:       2,
			ConsensusAlgorithm: AlgorithmSynthesis,
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com",
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
			MaxTokens:   4000,
			Timeout:     30 * time.Second,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			StreamMaxLen: 1000,
			Retention:    24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "password",
			Database: "polyagents",
			SSLMode:  "disable",
		},
		Qdrant: QdrantConfig{
			Enabled:    false,
			Host:       "localhost",
			Port:       6333,
			Collection: "conversation_memory",
			VectorSize: 384,
		},
		Security: SecurityConfig{
			APIKeyEnabled:       true,
			RateLimitingEnabled: true,
			RateLimit: RateLimitConfig{
				Requests: 100,
				Window:   time.Hour,
				Burst:    10,
			},
		},
		CORS: CORSConfig{
			Origins: []string{
				"http://localhost:3000",
				"http://localhost:8080",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:8080",
			},
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"*", "Authorization", "Content-Type", "X-Requested-With"},
		},
		Health: HealthConfig{
			Timeout:          5 * time.Second,
			CacheTTL:         30 * time.Second,
			ExternalServices: true,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			SuccessThreshold: 3,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			Interval:      24 * time.Hour,
		},
		Events: EventsConfig{
			RelayEnabled: false,
		},
		LogLevel: "INFO",
		Debug:    false,
	}
}

// PolyAgents orchestrator server: fans user prompts out to a team of
// LLM agents, distils their replies into a consensus answer, and serves
// the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/polyagents/polyagents/pkg/agent"
	"github.com/polyagents/polyagents/pkg/api"
	"github.com/polyagents/polyagents/pkg/audit"
	"github.com/polyagents/polyagents/pkg/bus"
	"github.com/polyagents/polyagents/pkg/cleanup"
	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/consensus"
	"github.com/polyagents/polyagents/pkg/database"
	"github.com/polyagents/polyagents/pkg/events"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/health"
	"github.com/polyagents/polyagents/pkg/llm"
	"github.com/polyagents/polyagents/pkg/orchestrator"
	"github.com/polyagents/polyagents/pkg/security"
	"github.com/polyagents/polyagents/pkg/vector"
	"github.com/polyagents/polyagents/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", ""),
		"Path to YAML configuration file (defaults + env vars when empty)")
	flag.Parse()

	// Load .env before config assembly so its values reach the env overrides
	envPath := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting PolyAgents",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	// 2. Initialize database and audit store
	dbClient, err := database.NewClient(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	auditStore := audit.NewStore(dbClient.DB())

	// 3. Connect the conversation bus
	messageBus := bus.New(cfg.Redis)
	defer func() {
		if err := messageBus.Close(); err != nil {
			slog.Error("Error closing message bus", "error", err)
		}
	}()
	if err := messageBus.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr(), "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis message bus", "addr", cfg.Redis.Addr())

	// 4. Initialize security: manager over the Postgres key store,
	// bootstrap keys, rate limiter
	securityMgr, err := security.NewManager(cfg.Security, auditStore)
	if err != nil {
		slog.Error("Failed to initialize security manager", "error", err)
		os.Exit(1)
	}

	bootstrapKeys, err := cfg.BootstrapAPIKeys()
	if err != nil {
		slog.Error("Invalid default_api_keys configuration", "error", err)
		os.Exit(1)
	}
	if err := securityMgr.Bootstrap(ctx, bootstrapKeys); err != nil {
		slog.Error("Failed to provision bootstrap API keys", "error", err)
		os.Exit(1)
	}

	limiter := security.NewRateLimiter(cfg.Security.RateLimit)
	limiter.Start()

	// 5. Streaming infrastructure: hub, optional bus relay, WS manager
	hub := events.NewHub()
	var relay *events.Relay
	if cfg.Events.RelayEnabled {
		relay = events.NewRelay(messageBus, hub)
		slog.Info("Bus relay enabled, events fan in from all replicas")
	}
	connManager := events.NewConnectionManager(hub, messageBus, relay)
	connManager.Start()

	// 6. LLM gateway and agent team
	gemini := llm.NewGeminiClient(cfg.Gemini)

	agentCfgs, err := cfg.AgentConfigs()
	if err != nil {
		slog.Error("Invalid models_config", "error", err)
		os.Exit(1)
	}
	team := make([]*agent.Agent, 0, len(agentCfgs))
	for _, ac := range agentCfgs {
		team = append(team, agent.New(ac, cfg.Gemini.MaxTokens, gemini))
	}
	slog.Info("Agent team assembled", "agents", len(team))

	// 6a. Consensus engine
	embedder := vector.NewHashingEmbedder(cfg.Qdrant.VectorSize)
	consensusEngine, err := consensus.NewEngine(string(cfg.Agents.ConsensusAlgorithm), consensus.Deps{
		Embedder:   embedder,
		Clusterer:  consensus.NewKMeans(),
		Summarizer: consensus.NewLLMSummarizer(gemini, cfg.Gemini.Model, 0),
		Fuser:      consensus.NewLLMFuser(gemini, cfg.Gemini.Model, 0),
	})
	if err != nil {
		slog.Error("Failed to initialize consensus engine", "error", err)
		os.Exit(1)
	}

	// 6b. Shared retry and circuit-breaker executor
	retryPolicy := fault.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = cfg.Retry.MaxAttempts
	retryPolicy.BaseDelay = cfg.Retry.BaseDelay
	retryPolicy.MaxDelay = cfg.Retry.MaxDelay
	executor := fault.NewExecutor(retryPolicy, fault.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.Timeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	// 6c. Optional similarity indexing
	var vecStore *vector.Store
	var indexer orchestrator.Indexer
	if cfg.Qdrant.Enabled {
		vecStore = vector.NewStore(cfg.Qdrant)
		if err := vecStore.Connect(ctx); err != nil {
			slog.Error("Failed to connect to Qdrant", "url", cfg.Qdrant.BaseURL(), "error", err)
			os.Exit(1)
		}
		indexer = vector.NewIndexer(embedder, vecStore)
		slog.Info("Similarity indexing enabled", "collection", cfg.Qdrant.Collection)
	}

	// 7. Orchestrator engine
	orchEngine, err := orchestrator.NewEngine(orchestrator.Deps{
		Bus:       messageBus,
		Audit:     auditStore,
		Hub:       hub,
		Consensus: consensusEngine,
		Agents:    team,
		Executor:  executor,
		Indexer:   indexer,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	// 7a. Health checks
	checker := health.NewChecker(cfg.Health.Timeout, cfg.Health.CacheTTL)
	checker.Register(health.Component{
		Name:     "redis",
		Critical: true,
		Check: func(ctx context.Context) (map[string]any, error) {
			return nil, messageBus.Ping(ctx)
		},
	})
	checker.Register(health.Component{
		Name:     "postgres",
		Critical: true,
		Check: func(ctx context.Context) (map[string]any, error) {
			st, err := database.Health(ctx, dbClient.DB())
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"open_connections": st.OpenConnections,
				"in_use":           st.InUse,
				"response_time_ms": st.ResponseTime,
			}, nil
		},
	})
	if cfg.Qdrant.Enabled {
		checker.Register(health.Component{
			Name:     "qdrant",
			Optional: true,
			Check: func(ctx context.Context) (map[string]any, error) {
				return nil, vecStore.Ping(ctx)
			},
		})
	}
	if cfg.Health.ExternalServices {
		checker.Register(health.Component{
			Name:     "gemini",
			Optional: true,
			Check: func(ctx context.Context) (map[string]any, error) {
				return nil, gemini.Ping(ctx)
			},
		})
	}

	// 7b. Retention sweeper
	cleanupSvc := cleanup.NewService(cfg.Cleanup, cfg.Redis.Retention, auditStore, messageBus, orchEngine)
	cleanupSvc.Start(ctx)

	// 8. Create and start HTTP server (non-blocking)
	server, err := api.NewServer(cfg, api.Deps{
		Engine:   orchEngine,
		Audit:    auditStore,
		Security: securityMgr,
		Limiter:  limiter,
		Events:   connManager,
		Health:   checker,
		Cleanup:  cleanupSvc,
		Executor: executor,
	})
	if err != nil {
		slog.Error("Failed to initialize HTTP server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("PolyAgents started successfully",
		"agents", len(team),
		"consensus_algorithm", cfg.Agents.ConsensusAlgorithm,
		"default_turns", cfg.Agents.DefaultTurns)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	cleanupSvc.Stop()
	limiter.Stop()

	if n := orchEngine.CancelAll(); n > 0 {
		slog.Info("Cancelled active conversations", "count", n)
	}

	// Closing the sockets first unblocks any WS handlers still held by
	// the HTTP server, so its shutdown budget is spent on plain requests.
	connManager.Shutdown()
	if relay != nil {
		relay.Close()
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// Package api is the HTTP gateway: chat and streaming endpoints, the
// conversation WebSocket, history queries, statistics, health, and admin
// operations, behind a middleware chain of CORS, security headers,
// authentication, rate limiting, and request logging.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/cleanup"
	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/events"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/health"
	"github.com/polyagents/polyagents/pkg/models"
	"github.com/polyagents/polyagents/pkg/orchestrator"
	"github.com/polyagents/polyagents/pkg/security"
)

// ConversationRunner drives multi-agent conversations.
type ConversationRunner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Outcome, error)
	ActiveCount() int
}

// AuditReader answers conversation history queries.
type AuditReader interface {
	MessagesFor(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error)
	RecentResults(ctx context.Context, limit, offset int) ([]*models.ConversationResult, error)
	Search(ctx context.Context, term string, limit, offset int) ([]*models.ConversationResult, error)
	Stats(ctx context.Context) (*models.AuditStats, error)
	AgentStats(ctx context.Context) (map[string]int64, error)
	Export(ctx context.Context, days int) ([]*models.ConversationExport, error)
}

// Deps carries the subsystems the server exposes. Engine, Audit, and
// Security are required; the rest may be nil, and the affected routes
// degrade to 503.
type Deps struct {
	Engine   ConversationRunner
	Audit    AuditReader
	Security *security.Manager
	Limiter  *security.RateLimiter
	Events   *events.ConnectionManager
	Health   *health.Checker
	Cleanup  *cleanup.Service
	Executor *fault.Executor
}

// Server is the HTTP gateway.
type Server struct {
	cfg  *config.Settings
	echo *echo.Echo
	http *http.Server

	engine      ConversationRunner
	audit       AuditReader
	securityMgr *security.Manager
	limiter     *security.RateLimiter
	events      *events.ConnectionManager
	health      *health.Checker
	cleanup     *cleanup.Service
	executor    *fault.Executor
}

// NewServer wires routes and middleware. It does not start listening;
// call Start.
func NewServer(cfg *config.Settings, deps Deps) (*Server, error) {
	const op = "api.NewServer"

	if cfg == nil {
		return nil, &fault.Error{Kind: fault.KindConfiguration, Op: op, Message: "settings are required"}
	}
	if deps.Engine == nil {
		return nil, &fault.Error{Kind: fault.KindConfiguration, Op: op, Message: "conversation engine is required"}
	}
	if deps.Audit == nil {
		return nil, &fault.Error{Kind: fault.KindConfiguration, Op: op, Message: "audit reader is required"}
	}
	if deps.Security == nil {
		return nil, &fault.Error{Kind: fault.KindConfiguration, Op: op, Message: "security manager is required"}
	}

	s := &Server{
		cfg:         cfg,
		echo:        echo.New(),
		engine:      deps.Engine,
		audit:       deps.Audit,
		securityMgr: deps.Security,
		limiter:     deps.Limiter,
		events:      deps.Events,
		health:      deps.Health,
		cleanup:     deps.Cleanup,
		executor:    deps.Executor,
	}

	s.echo.Use(requestLogger())
	s.echo.Use(corsMiddleware(cfg.CORS))
	s.echo.Use(securityHeaders())
	s.echo.Use(s.guard())
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/health/detailed", s.detailedHealthHandler)

	e.POST("/chat", s.chatHandler)
	e.POST("/stream/:id", s.streamHandler)
	e.GET("/ws/:id", s.wsHandler)

	e.GET("/conversations/recent", s.recentConversationsHandler)
	e.GET("/conversations/:id", s.getConversationHandler)
	e.POST("/conversations/search", s.searchConversationsHandler)
	e.GET("/statistics", s.statisticsHandler)

	e.POST("/admin/cleanup", s.cleanupHandler)
	e.GET("/admin/export", s.exportHandler)
	e.POST("/admin/api-keys", s.createAPIKeyHandler)
	e.GET("/admin/api-keys", s.listAPIKeysHandler)
	e.DELETE("/admin/api-keys/:id", s.revokeAPIKeyHandler)
}

// Start listens on addr and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

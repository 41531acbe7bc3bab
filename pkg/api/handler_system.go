package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/health"
	"github.com/polyagents/polyagents/pkg/models"
)

// healthHandler handles GET /health, the liveness probe. It never
// touches dependencies.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// detailedHealthHandler handles GET /health/detailed with the cached
// component report. Degraded still answers 200; only unhealthy flips to
// 503 so load balancers can eject the instance.
func (s *Server) detailedHealthHandler(c *echo.Context) error {
	if s.health == nil {
		return s.writeError(c, fault.New(fault.KindDependency, "health checker is not configured"))
	}

	report := s.health.Check(c.Request().Context(), true)
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

// statisticsHandler handles GET /statistics, a composite of audit
// counters, per-agent message counts, live conversation count, and
// circuit breaker states.
func (s *Server) statisticsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	stats, err := s.audit.Stats(ctx)
	if err != nil {
		return s.writeError(c, err)
	}
	agentCounts, err := s.audit.AgentStats(ctx)
	if err != nil {
		return s.writeError(c, err)
	}

	breakers := make(map[string]any)
	if s.executor != nil {
		for name, snap := range s.executor.Snapshot() {
			breakers[name] = snap
		}
	}

	return c.JSON(http.StatusOK, &models.StatisticsResponse{
		Audit:               stats,
		AgentMessageCounts:  agentCounts,
		ActiveConversations: s.engine.ActiveCount(),
		CircuitBreakers:     breakers,
		Timestamp:           time.Now().UTC(),
	})
}

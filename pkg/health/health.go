// Package health probes the system's dependencies. A Checker runs the
// registered component checks concurrently, each bounded by a timeout,
// and caches the combined report so health endpoints never amplify load
// on a struggling dependency.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults applied when the checker is constructed with zero values.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 30 * time.Second
)

// Status of a component or of the system as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckFunc probes one component. It may return details for the report
// and must return an error when the component is unusable.
type CheckFunc func(ctx context.Context) (map[string]any, error)

// Component is a registered probe. A failing critical component makes
// the whole system unhealthy; a failing optional one is reported
// degraded instead of unhealthy.
type Component struct {
	Name     string
	Critical bool
	Optional bool
	Check    CheckFunc
}

// ComponentHealth is one probe's result.
type ComponentHealth struct {
	Status         Status         `json:"status"`
	ResponseTimeMS float64        `json:"response_time_ms"`
	LastCheck      time.Time      `json:"last_check"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Summary counts components by status.
type Summary struct {
	TotalComponents int `json:"total_components"`
	Healthy         int `json:"healthy"`
	Degraded        int `json:"degraded"`
	Unhealthy       int `json:"unhealthy"`
	Unknown         int `json:"unknown"`
}

// Report is the detailed health response.
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Summary    Summary                    `json:"summary"`
}

// Checker runs component probes concurrently and caches the report.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	components []Component
	cached     *Report
	cachedAt   time.Time
}

// NewChecker creates a checker. Non-positive durations fall back to the
// defaults.
func NewChecker(timeout, cacheTTL time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Checker{
		timeout:  timeout,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Register adds a component probe.
func (c *Checker) Register(comp Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, comp)
}

// Check returns the health report, serving the cached one while it is
// fresh. useCache=false forces a full sweep.
func (c *Checker) Check(ctx context.Context, useCache bool) *Report {
	c.mu.Lock()
	if useCache && c.cached != nil && c.now().Sub(c.cachedAt) < c.cacheTTL {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	comps := append([]Component(nil), c.components...)
	c.mu.Unlock()

	start := time.Now()
	results := make(map[string]ComponentHealth, len(comps))
	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
	)
	for _, comp := range comps {
		wg.Add(1)
		go func(comp Component) {
			defer wg.Done()
			res := c.probe(ctx, comp)
			resultsMu.Lock()
			results[comp.Name] = res
			resultsMu.Unlock()
		}(comp)
	}
	wg.Wait()

	report := &Report{
		Status:     overall(comps, results),
		Timestamp:  c.now().UTC(),
		Components: results,
		Summary:    summarize(results),
	}

	c.mu.Lock()
	c.cached = report
	c.cachedAt = c.now()
	c.mu.Unlock()

	slog.Debug("Health check completed",
		"status", string(report.Status), "components", len(results), "duration", time.Since(start))
	return report
}

// probe runs one check bounded by the checker timeout. The bound holds
// even for checks that ignore their context.
func (c *Checker) probe(ctx context.Context, comp Component) ComponentHealth {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		details map[string]any
		err     error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		details, err := comp.Check(probeCtx)
		done <- outcome{details: details, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-probeCtx.Done():
		out = outcome{err: probeCtx.Err()}
	}

	health := ComponentHealth{
		Status:         StatusHealthy,
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
		LastCheck:      c.now().UTC(),
		Details:        out.details,
	}
	if out.err != nil {
		health.Status = StatusUnhealthy
		if comp.Optional {
			health.Status = StatusDegraded
		}
		health.Error = out.err.Error()
		if errors.Is(out.err, context.DeadlineExceeded) {
			health.Error = fmt.Sprintf("health check timed out after %s", c.timeout)
		}
		slog.Warn("Component health check failed",
			"component", comp.Name, "status", string(health.Status), "error", out.err)
	}
	return health
}

// overall reduces component results. An unhealthy critical component is
// an unhealthy system; any other unhealthy or degraded component only
// degrades it. Unknown results are reported but do not degrade.
func overall(comps []Component, results map[string]ComponentHealth) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	anyProblem := false
	for _, comp := range comps {
		res, ok := results[comp.Name]
		if !ok {
			continue
		}
		switch res.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			anyProblem = true
		case StatusDegraded:
			anyProblem = true
		}
	}
	if anyProblem {
		return StatusDegraded
	}
	return StatusHealthy
}

func summarize(results map[string]ComponentHealth) Summary {
	s := Summary{TotalComponents: len(results)}
	for _, res := range results {
		switch res.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
		default:
			s.Unknown++
		}
	}
	return s
}

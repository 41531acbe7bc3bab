package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyCheck(details map[string]any) CheckFunc {
	return func(ctx context.Context) (map[string]any, error) { return details, nil }
}

func failingCheck(err error) CheckFunc {
	return func(ctx context.Context) (map[string]any, error) { return nil, err }
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second, time.Minute)
	c.Register(Component{Name: "redis", Critical: true, Check: healthyCheck(nil)})
	c.Register(Component{Name: "postgresql", Critical: true, Check: healthyCheck(map[string]any{"tables_exist": true})})

	report := c.Check(context.Background(), false)

	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Components, 2)
	assert.Equal(t, StatusHealthy, report.Components["redis"].Status)
	assert.Equal(t, true, report.Components["postgresql"].Details["tables_exist"])
	assert.Equal(t, Summary{TotalComponents: 2, Healthy: 2}, report.Summary)
}

func TestChecker_NoComponents(t *testing.T) {
	c := NewChecker(time.Second, time.Minute)

	report := c.Check(context.Background(), false)

	assert.Equal(t, StatusUnknown, report.Status)
	assert.Empty(t, report.Components)
	assert.Equal(t, Summary{}, report.Summary)
}

func TestChecker_OptionalFailureDegrades(t *testing.T) {
	c := NewChecker(time.Second, time.Minute)
	c.Register(Component{Name: "redis", Critical: true, Check: healthyCheck(nil)})
	c.Register(Component{Name: "qdrant", Optional: true, Check: failingCheck(errors.New("connection refused"))})

	report := c.Check(context.Background(), false)

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["qdrant"].Status)
	assert.Equal(t, "connection refused", report.Components["qdrant"].Error)
	assert.Equal(t, Summary{TotalComponents: 2, Healthy: 1, Degraded: 1}, report.Summary)
}

func TestChecker_NonCriticalFailureDegradesSystem(t *testing.T) {
	c := NewChecker(time.Second, time.Minute)
	c.Register(Component{Name: "redis", Critical: true, Check: healthyCheck(nil)})
	c.Register(Component{Name: "gemini_api", Check: failingCheck(errors.New("api error"))})

	report := c.Check(context.Background(), false)

	// The component itself is unhealthy, but only critical components
	// can take the whole system down.
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Components["gemini_api"].Status)
	assert.Equal(t, Summary{TotalComponents: 2, Healthy: 1, Unhealthy: 1}, report.Summary)
}

func TestChecker_CriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker(time.Second, time.Minute)
	c.Register(Component{Name: "redis", Critical: true, Check: failingCheck(errors.New("no route to host"))})
	c.Register(Component{Name: "postgresql", Critical: true, Check: healthyCheck(nil)})
	c.Register(Component{Name: "qdrant", Optional: true, Check: healthyCheck(nil)})

	report := c.Check(context.Background(), false)

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Components["redis"].Status)
	assert.Equal(t, Summary{TotalComponents: 3, Healthy: 2, Unhealthy: 1}, report.Summary)
}

func TestChecker_TimeoutBoundsSlowCheck(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := NewChecker(30*time.Millisecond, time.Minute)
	c.Register(Component{Name: "postgresql", Critical: true, Check: func(ctx context.Context) (map[string]any, error) {
		// Ignores its context on purpose; the probe must still return.
		<-release
		return nil, nil
	}})

	start := time.Now()
	report := c.Check(context.Background(), false)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Components["postgresql"].Error, "timed out")
}

func TestChecker_CachesReports(t *testing.T) {
	var probes atomic.Int32
	now := time.Now()

	c := NewChecker(time.Second, 30*time.Second)
	c.now = func() time.Time { return now }
	c.Register(Component{Name: "redis", Critical: true, Check: func(ctx context.Context) (map[string]any, error) {
		probes.Add(1)
		return nil, nil
	}})

	first := c.Check(context.Background(), true)
	second := c.Check(context.Background(), true)
	assert.Same(t, first, second, "fresh cache is served as-is")
	assert.EqualValues(t, 1, probes.Load())

	// Past the TTL the cache goes stale.
	now = now.Add(31 * time.Second)
	third := c.Check(context.Background(), true)
	assert.NotSame(t, first, third)
	assert.EqualValues(t, 2, probes.Load())

	// An explicit refresh always probes.
	c.Check(context.Background(), false)
	assert.EqualValues(t, 3, probes.Load())
}

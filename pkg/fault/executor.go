package fault

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// Executor combines the retry policy with a registry of named circuit
// breakers, one per external dependency ("redis", "postgres",
// "llm:<model>", ...). Breakers are created lazily and live for the
// process lifetime.
type Executor struct {
	policy     RetryPolicy
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewExecutor creates an Executor with the given defaults.
func NewExecutor(policy RetryPolicy, breakerCfg BreakerConfig) *Executor {
	return &Executor{
		policy:     policy,
		breakerCfg: breakerCfg,
		breakers:   make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for name, creating it on first use.
func (e *Executor) Breaker(name string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	br, ok := e.breakers[name]
	if !ok {
		br = NewBreaker(name, e.breakerCfg)
		e.breakers[name] = br
	}
	return br
}

// Execute runs fn guarded by the named breaker and the executor's default
// retry policy. An empty breaker name skips breaker gating.
func (e *Executor) Execute(ctx context.Context, op, breakerName string, fn func(ctx context.Context) error) error {
	return e.ExecuteWith(ctx, op, breakerName, e.policy, fn)
}

// ExecuteWith is Execute with an explicit retry policy. Every attempt is
// gated on the breaker first, so a breaker that opens mid-retry aborts the
// remaining attempts; every outcome is recorded on the breaker.
func (e *Executor) ExecuteWith(ctx context.Context, op, breakerName string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var br *Breaker
	if breakerName != "" {
		br = e.Breaker(breakerName)
	}

	attempt := 0
	return backoff.Retry(func() error {
		if br != nil {
			if err := br.Allow(); err != nil {
				return backoff.Permanent(err)
			}
		}

		attempt++
		err := fn(ctx)
		if err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			return nil
		}

		if br != nil {
			br.RecordFailure()
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("Operation failed, will retry",
			"op", op, "breaker", breakerName, "attempt", attempt,
			"kind", KindOf(err), "error", err)
		return err
	}, policy.backOff(ctx))
}

// Snapshot reports every known breaker keyed by dependency name.
func (e *Executor) Snapshot() map[string]BreakerSnapshot {
	e.mu.Lock()
	brs := make([]*Breaker, 0, len(e.breakers))
	for _, br := range e.breakers {
		brs = append(brs, br)
	}
	e.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(brs))
	for _, br := range brs {
		snap := br.Snapshot()
		out[snap.Name] = snap
	}
	return out
}

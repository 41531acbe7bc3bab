package fault

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls exponential backoff for a retried operation.
// Delay for attempt i (0-based) is min(MaxDelay, BaseDelay·Multiplier^i),
// jittered symmetrically by ±Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultRetryPolicy mirrors the configuration defaults: 3 attempts,
// 1 s base delay doubling up to 60 s, ±10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// backOff builds the context-aware backoff chain for one Retry call.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0 // attempts bound the loop, not wall time
	b.Reset()

	var chain backoff.BackOff = b
	if p.MaxAttempts > 0 {
		chain = backoff.WithMaxRetries(chain, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(chain, ctx)
}

// Retry runs fn under the policy, retrying transient failures with
// exponential backoff. Non-retryable errors abort immediately; exhaustion
// returns the last error observed.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("Retryable operation failed",
			"op", op, "attempt", attempt, "kind", KindOf(err), "error", err)
		return err
	}, policy.backOff(ctx))
}

package fault

import (
	"fmt"
	"sync"
	"time"
)

// State is a circuit breaker lifecycle state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes a Breaker's thresholds.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultBreakerConfig mirrors the configuration defaults: open after 5
// failures, probe after 60 s, close after 3 consecutive successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Breaker is a per-dependency circuit breaker.
//
// Closed counts consecutive failures and opens at FailureThreshold. Open
// fails fast until RecoveryTimeout has elapsed, then admits probe calls in
// HalfOpen. SuccessThreshold consecutive successes close the breaker; any
// HalfOpen failure reopens it and restarts the timer.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	stateChangedAt time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	b.stateChangedAt = b.now()
	return b
}

// Allow reports whether a call may proceed. In the Open state it fails fast
// with a CircuitOpen error carrying the remaining recovery time; once the
// timeout has elapsed the breaker moves to HalfOpen and admits the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.stateChangedAt)
		if elapsed < b.cfg.RecoveryTimeout {
			return &Error{
				Kind:       KindCircuitOpen,
				Message:    fmt.Sprintf("circuit breaker %q is open", b.name),
				RetryAfter: b.cfg.RecoveryTimeout - elapsed,
			}
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

// RecordSuccess notes a successful call. A Closed success resets the
// failure count; HalfOpen successes accumulate toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure notes a failed call. Closed failures accumulate toward
// opening; any HalfOpen failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// transition moves to next and restarts the state timer. Callers hold b.mu.
func (b *Breaker) transition(next State) {
	b.state = next
	b.stateChangedAt = b.now()
	b.successes = 0
	if next == StateClosed {
		b.failures = 0
	}
}

// State returns the effective state, reporting Open breakers whose recovery
// timeout has elapsed as HalfOpen without mutating anything.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.stateChangedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// BreakerSnapshot is the observable breaker state for health reporting.
type BreakerSnapshot struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	StateChangedAt time.Time `json:"state_changed_at"`
}

// Snapshot returns the breaker's current counters and effective state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:           b.name,
		State:          state,
		Failures:       b.failures,
		Successes:      b.successes,
		StateChangedAt: b.stateChangedAt,
	}
}

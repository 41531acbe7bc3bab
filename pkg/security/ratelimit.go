package security

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyagents/polyagents/pkg/config"
)

const (
	defaultRateRequests = 100
	defaultRateWindow   = time.Hour
	defaultRateBurst    = 10

	reaperInterval = 5 * time.Minute
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long a rejected caller should wait.
	RetryAfter time.Duration
	// Remaining counts requests still permitted in the current window,
	// burst pool included.
	Remaining int
}

type rateBucket struct {
	windowStart  time.Time
	requests     int
	burst        int
	blockedUntil time.Time
	lastSeen     time.Time
}

// RateLimiter enforces a fixed window per identity with a small burst
// pool on top. Identities are "client_id:client_ip" so one misbehaving
// key cannot starve the rest, and one IP rotating keys does not escape
// either.
type RateLimiter struct {
	requests int
	window   time.Duration
	burst    int

	// now is swapped out by tests.
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*rateBucket
	stop    chan struct{}
	done    chan struct{}
}

// NewRateLimiter builds a limiter; zero config fields fall back to
// 100 requests per hour with a burst of 10.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = defaultRateRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateWindow
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultRateBurst
	}
	return &RateLimiter{
		requests: cfg.Requests,
		window:   cfg.Window,
		burst:    cfg.Burst,
		now:      time.Now,
		buckets:  make(map[string]*rateBucket),
	}
}

// Allow runs one request through the bucket for clientID at clientIP.
func (l *RateLimiter) Allow(clientID, clientIP string) Decision {
	key := clientID + ":" + clientIP
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &rateBucket{windowStart: now, burst: l.burst}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// An elapsed window resets counters and clears any standing block.
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.requests = 0
		b.burst = l.burst
		b.blockedUntil = time.Time{}
	}

	if !b.blockedUntil.IsZero() && now.Before(b.blockedUntil) {
		return Decision{RetryAfter: b.blockedUntil.Sub(now)}
	}

	if b.burst > 0 {
		b.burst--
		return Decision{Allowed: true, Remaining: b.burst + l.requests - b.requests}
	}

	if b.requests < l.requests {
		b.requests++
		return Decision{Allowed: true, Remaining: l.requests - b.requests}
	}

	// Exhausted: block until the earlier of now+W and the window end.
	blocked := now.Add(l.window)
	if end := b.windowStart.Add(l.window); end.Before(blocked) {
		blocked = end
	}
	b.blockedUntil = blocked
	return Decision{RetryAfter: blocked.Sub(now)}
}

// Start launches the background reaper. Calling Start on a running
// limiter is a no-op.
func (l *RateLimiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.reapLoop(l.stop, l.done)
}

// Stop halts the reaper and waits for it to exit. Safe to call twice or
// without a prior Start.
func (l *RateLimiter) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (l *RateLimiter) reapLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.reap()
		}
	}
}

// reap drops buckets idle for more than two windows. Standing blocks
// never outlive their window, so an idle bucket holds nothing worth
// keeping.
func (l *RateLimiter) reap() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > 2*l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Expired rate limit buckets", "removed", removed, "remaining", len(l.buckets))
	}
}

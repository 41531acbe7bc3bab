// Package fault provides the error taxonomy, retry policies, and circuit
// breakers shared by every subsystem that talks to an external dependency
// (Redis, Postgres, Qdrant, the LLM gateway).
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for retry decisions and HTTP mapping.
type Kind string

// Error taxonomy. Dependency, RateLimited, and CircuitOpen are transient;
// everything else fails fast.
const (
	KindConfiguration    Kind = "configuration"
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindAuthorization    Kind = "authorization"
	KindRateLimited      Kind = "rate_limited"
	KindDependency       Kind = "dependency"
	KindCircuitOpen      Kind = "circuit_open"
	KindNoAgentResponses Kind = "no_agent_responses"
	KindCancelled        Kind = "cancelled"
	KindInvalidInput     Kind = "invalid_input"
	KindInternal         Kind = "internal"
)

// Error is a classified error. Op names the failing operation
// ("bus.append", "gemini.generate"); RetryAfter is advisory and only set
// for rate limits and open breakers.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a fixed message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and operation name. Returns nil when err
// is nil so it can wrap return values directly.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from err. Context cancellation and
// deadline expiry map to KindCancelled; anything unclassified is
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// Retryable reports whether err is worth retrying. Dependency faults, rate
// limits, and open breakers are transient; the rest are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindDependency, KindRateLimited, KindCircuitOpen:
		return true
	}
	return false
}

// RetryAfterOf returns the advisory retry-after hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter, true
	}
	return 0, false
}

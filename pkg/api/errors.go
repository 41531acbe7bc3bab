package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
)

// errNotFound marks lookups whose subject does not exist. It is the only
// error the gateway maps to 404; the fault taxonomy has no such kind
// because nothing below the HTTP layer treats absence as a failure.
var errNotFound = errors.New("resource not found")

// errorBody is the envelope of every error response.
type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Cause     string    `json:"cause,omitempty"`
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation, fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindAuthentication:
		return http.StatusUnauthorized
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindNoAgentResponses:
		return http.StatusBadGateway
	case fault.KindDependency, fault.KindCircuitOpen, fault.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal detail out of responses. Client-caused
// kinds carry their own message; server-side kinds get a fixed phrase
// and the real error stays in the log.
func publicMessage(err error, kind fault.Kind) string {
	switch kind {
	case fault.KindDependency:
		return "a required dependency is unavailable"
	case fault.KindCircuitOpen:
		return "service temporarily unavailable, try again later"
	case fault.KindCancelled:
		return "request cancelled"
	case fault.KindInternal, fault.KindConfiguration:
		return "internal server error"
	}

	var fe *fault.Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}

// writeError renders err with the shared envelope. The fault kind picks
// the status code; rate limit errors also get a Retry-After header.
// Debug mode includes the full error chain as cause.
func (s *Server) writeError(c *echo.Context, err error) error {
	now := time.Now().UTC()

	if errors.Is(err, errNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{
			Error:     "not_found",
			Message:   "resource not found",
			Timestamp: now,
		})
	}

	kind := fault.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError && kind != fault.KindCancelled {
		slog.Error("Request failed", "kind", kind, "error", err)
	}
	if after, ok := fault.RetryAfterOf(err); ok {
		secs := int(after / time.Second)
		if after%time.Second != 0 {
			secs++
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}

	body := errorBody{
		Error:     string(kind),
		Message:   publicMessage(err, kind),
		Timestamp: now,
	}
	if s.cfg.Debug {
		body.Cause = err.Error()
	}
	return c.JSON(status, body)
}

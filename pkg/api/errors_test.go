package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/fault"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind fault.Kind
		want int
	}{
		{fault.KindValidation, http.StatusBadRequest},
		{fault.KindInvalidInput, http.StatusBadRequest},
		{fault.KindAuthentication, http.StatusUnauthorized},
		{fault.KindAuthorization, http.StatusForbidden},
		{fault.KindRateLimited, http.StatusTooManyRequests},
		{fault.KindNoAgentResponses, http.StatusBadGateway},
		{fault.KindDependency, http.StatusServiceUnavailable},
		{fault.KindCircuitOpen, http.StatusServiceUnavailable},
		{fault.KindCancelled, http.StatusServiceUnavailable},
		{fault.KindConfiguration, http.StatusInternalServerError},
		{fault.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), string(tt.kind))
	}
}

func TestWriteError_Envelope(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := &fault.Error{Kind: fault.KindValidation, Op: "api.test", Message: "message cannot be empty"}
	require.NoError(t, s.writeError(c, err))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, "message cannot be empty", body.Message)
	assert.False(t, body.Timestamp.IsZero())
	assert.Empty(t, body.Cause)
}

func TestWriteError_DebugIncludesCause(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = true
	s, _, _ := newTestServer(t, cfg, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	wrapped := fault.Wrap(fault.KindDependency, "bus.append", errors.New("connection refused"))
	require.NoError(t, s.writeError(c, wrapped))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a required dependency is unavailable", body.Message)
	assert.Contains(t, body.Cause, "connection refused")
}

func TestWriteError_SanitizesServerFaults(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, s.writeError(c, errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body.Error)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestWriteError_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, s.writeError(c, errNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestWriteError_RetryAfterHeader(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := &fault.Error{
		Kind:       fault.KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: 1500 * time.Millisecond,
	}
	require.NoError(t, s.writeError(c, err))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"), "sub-second remainders round up")
}

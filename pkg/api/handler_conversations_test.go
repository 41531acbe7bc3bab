package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

func TestRecentConversationsHandler(t *testing.T) {
	s, _, audit := newTestServer(t, nil, nil)
	audit.results = []*models.ConversationResult{
		{ConversationID: "conv-1", Prompt: "Pick a color.", FinalAnswer: "Red.", CreatedAt: time.Now().UTC()},
		{ConversationID: "conv-2", Prompt: "Pick a shape.", FinalAnswer: "Square.", CreatedAt: time.Now().UTC()},
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/recent?limit=5", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RecentConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "conv-1", resp.Conversations[0].ConversationID)
	assert.Equal(t, 5, audit.gotLimit)
}

func TestRecentConversationsHandler_EmptyIsAnArray(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/recent", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conversations":[]`)
}

func TestRecentConversationsHandler_ClampsLimit(t *testing.T) {
	s, _, audit := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/recent?limit=9999", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, audit.gotLimit)
}

func TestGetConversationHandler(t *testing.T) {
	s, _, audit := newTestServer(t, nil, nil)
	audit.messages = []*models.Message{
		{ID: "m-1", ConversationID: "conv-1", Sender: "user", Content: "Pick a color.", Turn: 0},
		{ID: "m-2", ConversationID: "conv-1", Sender: "agent_0", Content: "Red.", Turn: 1},
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ConversationDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "conv-1", audit.gotConvID)
}

func TestGetConversationHandler_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-unknown", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestGetConversationHandler_RejectsInvalidID(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/bad%20id", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchConversationsHandler(t *testing.T) {
	s, _, audit := newTestServer(t, nil, nil)
	audit.results = []*models.ConversationResult{
		{ConversationID: "conv-1", Prompt: "Pick a color.", FinalAnswer: "Red."},
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/conversations/search", `{"query":"color","limit":3}`), rec)

	require.NoError(t, s.searchConversationsHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "color", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "color", audit.gotTerm)
	assert.Equal(t, 3, audit.gotLimit)
}

func TestSearchConversationsHandler_TermTooShort(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/conversations/search", `{"query":"a"}`), rec)

	require.NoError(t, s.searchConversationsHandler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchConversationsHandler_AuditFailure(t *testing.T) {
	s, _, audit := newTestServer(t, nil, nil)
	audit.err = fault.New(fault.KindDependency, "postgres down")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/conversations/search", `{"query":"color"}`), rec)

	require.NoError(t, s.searchConversationsHandler(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

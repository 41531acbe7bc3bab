package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
	"github.com/polyagents/polyagents/pkg/security"
)

// boundedIntParam parses a positive integer query parameter, falling
// back to def when absent or invalid and clamping to max.
func boundedIntParam(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// recentConversationsHandler handles GET /conversations/recent.
func (s *Server) recentConversationsHandler(c *echo.Context) error {
	limit := boundedIntParam(c.QueryParam("limit"), 10, 100)
	offset := boundedIntParam(c.QueryParam("offset"), 0, 10000)

	results, err := s.audit.RecentResults(c.Request().Context(), limit, offset)
	if err != nil {
		return s.writeError(c, err)
	}
	if results == nil {
		results = []*models.ConversationResult{}
	}

	return c.JSON(http.StatusOK, &models.RecentConversationsResponse{Conversations: results})
}

// getConversationHandler handles GET /conversations/:id. Conversations
// with no recorded messages are reported as missing.
func (s *Server) getConversationHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if err := security.ValidateConversationID(conversationID); err != nil {
		return s.writeError(c, err)
	}
	limit := boundedIntParam(c.QueryParam("limit"), 100, 1000)
	offset := boundedIntParam(c.QueryParam("offset"), 0, 100000)

	messages, err := s.audit.MessagesFor(c.Request().Context(), conversationID, limit, offset)
	if err != nil {
		return s.writeError(c, err)
	}
	if len(messages) == 0 {
		return s.writeError(c, errNotFound)
	}

	return c.JSON(http.StatusOK, &models.ConversationDetailResponse{
		ConversationID: conversationID,
		Messages:       messages,
	})
}

// searchConversationsHandler handles POST /conversations/search.
func (s *Server) searchConversationsHandler(c *echo.Context) error {
	var req models.SearchRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fault.New(fault.KindInvalidInput, "request body must be valid JSON"))
	}

	term, err := security.ValidateSearchTerm(req.Query)
	if err != nil {
		return s.writeError(c, err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	results, err := s.audit.Search(c.Request().Context(), term, limit, offset)
	if err != nil {
		return s.writeError(c, err)
	}
	if results == nil {
		results = []*models.ConversationResult{}
	}

	return c.JSON(http.StatusOK, &models.SearchResponse{Results: results, Query: term})
}

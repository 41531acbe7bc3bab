package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/security"
)

// wsHandler handles GET /ws/:id. It upgrades the connection and blocks
// inside the connection manager until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.events == nil {
		return s.writeError(c, fault.New(fault.KindDependency, "event streaming is not available"))
	}

	conversationID := c.Param("id")
	if err := security.ValidateConversationID(conversationID); err != nil {
		return s.writeError(c, err)
	}

	return s.events.Handle(c.Response(), c.Request(), conversationID)
}

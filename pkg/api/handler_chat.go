package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
	"github.com/polyagents/polyagents/pkg/orchestrator"
	"github.com/polyagents/polyagents/pkg/security"
)

// parseChatRequest binds and validates the shared body of the chat and
// stream endpoints, returning the sanitized message and the run request.
func (s *Server) parseChatRequest(c *echo.Context, conversationID string) (orchestrator.RunRequest, error) {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return orchestrator.RunRequest{}, fault.New(fault.KindInvalidInput, "request body must be valid JSON")
	}

	message := security.SanitizeText(req.Message, 0)
	if message == "" {
		return orchestrator.RunRequest{}, fault.New(fault.KindValidation, "message cannot be empty")
	}

	if conversationID == "" {
		conversationID = req.ConversationID
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	} else if err := security.ValidateConversationID(conversationID); err != nil {
		return orchestrator.RunRequest{}, err
	}

	turns := s.cfg.Agents.DefaultTurns
	if req.Turns != nil {
		turns = *req.Turns
	}

	return orchestrator.RunRequest{
		ConversationID: conversationID,
		Prompt:         message,
		Turns:          turns,
		NumAgents:      req.NumAgents,
	}, nil
}

// chatHandler handles POST /chat: it runs the full conversation and
// responds with the consensus once every turn has completed.
func (s *Server) chatHandler(c *echo.Context) error {
	run, err := s.parseChatRequest(c, "")
	if err != nil {
		return s.writeError(c, err)
	}

	outcome, err := s.engine.Run(c.Request().Context(), run)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, &models.ChatResponse{
		ConversationID: outcome.ConversationID,
		MessageID:      outcome.ConsensusMessageID,
		Response:       outcome.FinalAnswer,
		AgentResponses: outcome.AgentReplies,
		Consensus:      outcome.Consensus,
	})
}

// streamHandler handles POST /stream/:id: it starts the conversation in
// the background and immediately returns the WebSocket path to follow it
// on. The run deliberately does not inherit the request context, which
// dies as soon as this response is written.
func (s *Server) streamHandler(c *echo.Context) error {
	run, err := s.parseChatRequest(c, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}

	go func() {
		if _, err := s.engine.Run(context.Background(), run); err != nil {
			slog.Error("Streamed conversation failed",
				"conversation_id", run.ConversationID, "error", err)
		}
	}()

	return c.JSON(http.StatusOK, &models.StreamStartedResponse{
		ConversationID: run.ConversationID,
		Status:         "started",
		WebsocketURL:   "/ws/" + run.ConversationID,
	})
}

package events

import (
	"time"

	"github.com/polyagents/polyagents/pkg/models"
)

// MessageBody is the wire form of a conversation message embedded in
// message and agent_response events.
type MessageBody struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
}

func bodyOf(m *models.Message) MessageBody {
	return MessageBody{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Turn:      m.Turn,
		Timestamp: m.Timestamp,
	}
}

// ConversationStartedPayload announces a new conversation run.
type ConversationStartedPayload struct {
	Type           string `json:"type"` // always EventTypeConversationStarted
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	TotalTurns     int    `json:"total_turns"`
}

func NewConversationStarted(conversationID, prompt string, totalTurns int) ConversationStartedPayload {
	return ConversationStartedPayload{
		Type:           EventTypeConversationStarted,
		ConversationID: conversationID,
		Prompt:         prompt,
		TotalTurns:     totalTurns,
	}
}

// MessagePayload carries one conversation message. The type field is
// "message" for user and consensus messages and "agent_response" for
// agent replies, so clients can render them differently.
type MessagePayload struct {
	Type    string      `json:"type"`
	Message MessageBody `json:"message"`
}

func NewMessage(m *models.Message) MessagePayload {
	return MessagePayload{Type: EventTypeMessage, Message: bodyOf(m)}
}

func NewAgentResponse(m *models.Message) MessagePayload {
	return MessagePayload{Type: EventTypeAgentResponse, Message: bodyOf(m)}
}

// TurnStartedPayload marks the beginning of a turn's agent fan-out.
type TurnStartedPayload struct {
	Type       string `json:"type"` // always EventTypeTurnStarted
	Turn       int    `json:"turn"`
	AgentCount int    `json:"agent_count"`
}

func NewTurnStarted(turn, agentCount int) TurnStartedPayload {
	return TurnStartedPayload{Type: EventTypeTurnStarted, Turn: turn, AgentCount: agentCount}
}

// AgentThinkingPayload signals that an agent's model call is in flight.
type AgentThinkingPayload struct {
	Type    string `json:"type"` // always EventTypeAgentThinking
	AgentID string `json:"agent_id"`
	Turn    int    `json:"turn"`
}

func NewAgentThinking(agentID string, turn int) AgentThinkingPayload {
	return AgentThinkingPayload{Type: EventTypeAgentThinking, AgentID: agentID, Turn: turn}
}

// AgentErrorPayload reports one agent's failure within a turn. The turn
// continues with the remaining agents.
type AgentErrorPayload struct {
	Type    string `json:"type"` // always EventTypeAgentError
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
	Turn    int    `json:"turn"`
}

func NewAgentError(agentID string, turn int, err error) AgentErrorPayload {
	return AgentErrorPayload{
		Type:    EventTypeAgentError,
		AgentID: agentID,
		Error:   err.Error(),
		Turn:    turn,
	}
}

// TurnCompletedPayload closes a turn with the count of agents that
// produced a reply.
type TurnCompletedPayload struct {
	Type              string `json:"type"` // always EventTypeTurnCompleted
	Turn              int    `json:"turn"`
	ResponsesReceived int    `json:"responses_received"`
}

func NewTurnCompleted(turn, responsesReceived int) TurnCompletedPayload {
	return TurnCompletedPayload{Type: EventTypeTurnCompleted, Turn: turn, ResponsesReceived: responsesReceived}
}

// ConsensusStartedPayload signals that all turns are done and the
// consensus stage is running.
type ConsensusStartedPayload struct {
	Type    string `json:"type"` // always EventTypeConsensusStarted
	Message string `json:"message"`
}

func NewConsensusStarted() ConsensusStartedPayload {
	return ConsensusStartedPayload{Type: EventTypeConsensusStarted, Message: ConsensusStartedMessage}
}

// ConsensusReachedPayload delivers the consensus outcome.
type ConsensusReachedPayload struct {
	Type      string                  `json:"type"` // always EventTypeConsensusReached
	Consensus models.ConsensusOutcome `json:"consensus"`
}

func NewConsensusReached(outcome models.ConsensusOutcome) ConsensusReachedPayload {
	return ConsensusReachedPayload{Type: EventTypeConsensusReached, Consensus: outcome}
}

// ConversationCompletedPayload is the terminal event of a successful run.
type ConversationCompletedPayload struct {
	Type           string `json:"type"` // always EventTypeConversationCompleted
	ConversationID string `json:"conversation_id"`
	TotalMessages  int    `json:"total_messages"`
	FinalAnswer    string `json:"final_answer"`
}

func NewConversationCompleted(conversationID string, totalMessages int, finalAnswer string) ConversationCompletedPayload {
	return ConversationCompletedPayload{
		Type:           EventTypeConversationCompleted,
		ConversationID: conversationID,
		TotalMessages:  totalMessages,
		FinalAnswer:    finalAnswer,
	}
}

// ErrorPayload is the terminal event of a failed run. ConversationID is
// empty when the failure happened before a conversation was registered.
type ErrorPayload struct {
	Type           string `json:"type"` // always EventTypeError
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func NewError(conversationID string, err error) ErrorPayload {
	return ErrorPayload{Type: EventTypeError, Message: err.Error(), ConversationID: conversationID}
}

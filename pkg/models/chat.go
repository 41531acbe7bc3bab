package models

// ChatRequest is the body of POST /chat and POST /stream/:cid.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	NumAgents      int    `json:"num_agents,omitempty"`
	Turns          *int   `json:"turns,omitempty"`
}

// AgentReply is one agent's contribution included in a ChatResponse.
type AgentReply struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
	Turn    int    `json:"turn"`
}

// ChatResponse is the synchronous answer of POST /chat.
type ChatResponse struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Response       string            `json:"response"`
	AgentResponses []AgentReply      `json:"agent_responses,omitempty"`
	Consensus      *ConsensusOutcome `json:"consensus,omitempty"`
}

// StreamStartedResponse acknowledges POST /stream/:cid; the caller follows
// the conversation on the returned WebSocket URL.
type StreamStartedResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	WebsocketURL   string `json:"websocket_url"`
}

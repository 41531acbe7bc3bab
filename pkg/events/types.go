// Package events provides real-time delivery of conversation events to
// WebSocket clients.
//
// The orchestrator publishes typed payloads (see payloads.go) to the Hub,
// which fans each one out to every subscriber attached to the payload's
// conversation. The ConnectionManager adapts WebSocket connections into
// hub subscribers and answers client keep-alives and catchup requests.
// The optional Relay bridges the Redis Streams bus into the hub so that
// clients connected to one instance see messages appended by another.
//
// Events are delivered best-effort: a subscriber that cannot be written
// to is detached, and delivery failures never propagate back into the
// conversation pipeline.
package events

// Event types carried in the "type" field of every payload.
const (
	EventTypeConversationStarted   = "conversation_started"
	EventTypeMessage               = "message"
	EventTypeTurnStarted           = "turn_started"
	EventTypeAgentThinking         = "agent_thinking"
	EventTypeAgentResponse         = "agent_response"
	EventTypeAgentError            = "agent_error"
	EventTypeTurnCompleted         = "turn_completed"
	EventTypeConsensusStarted      = "consensus_started"
	EventTypeConsensusReached      = "consensus_reached"
	EventTypeConversationCompleted = "conversation_completed"
	EventTypeError                 = "error"
)

// ConsensusStartedMessage is the status line clients show while the
// consensus stage runs.
const ConsensusStartedMessage = "Agents reaching consensus..."

// ClientMessage is the JSON structure for client → server WebSocket
// messages. The bare text "ping" is handled before JSON decoding, so it
// never reaches this struct.
type ClientMessage struct {
	Action string `json:"action"`          // "catchup"
	Count  int64  `json:"count,omitempty"` // messages to replay; 0 means the default
}

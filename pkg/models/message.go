// Package models defines the data types shared across the polyagents
// subsystems: conversation messages, consensus outcomes, terminal results,
// and the request/response shapes of the HTTP surface.
package models

import (
	"strings"
	"time"
)

// Well-known senders. Agent senders are "agent_<k>".
const (
	SenderUser      = "user"
	SenderConsensus = "consensus"

	// AgentSenderPrefix marks messages produced by an agent.
	AgentSenderPrefix = "agent_"
)

// Message is one entry in a conversation. Messages are immutable once
// written; corrections are new messages.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Content        string         `json:"content"`
	Turn           int            `json:"turn"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// IsAgentSender reports whether sender identifies an agent.
func IsAgentSender(sender string) bool {
	return strings.HasPrefix(sender, AgentSenderPrefix)
}

// FromAgent reports whether the message was produced by an agent.
func (m *Message) FromAgent() bool {
	return IsAgentSender(m.Sender)
}

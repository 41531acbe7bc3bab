package models

import "time"

// ConversationResult is the terminal record of a conversation, written
// exactly once when consensus completes.
type ConversationResult struct {
	ConversationID  string    `json:"conversation_id"`
	Prompt          string    `json:"prompt"`
	FinalAnswer     string    `json:"final_answer"`
	TotalTurns      int       `json:"total_turns"`
	TotalMessages   int       `json:"total_messages"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
}

// ConversationExport bundles a result with its ordered messages for
// the admin export endpoint.
type ConversationExport struct {
	ConversationID  string     `json:"conversation_id"`
	Prompt          string     `json:"prompt"`
	FinalAnswer     string     `json:"final_answer"`
	TotalTurns      int        `json:"total_turns"`
	TotalMessages   int        `json:"total_messages"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	Messages        []*Message `json:"messages"`
}

// TurnGroup is one turn's slice of a conversation timeline.
type TurnGroup struct {
	Turn     int        `json:"turn"`
	Messages []*Message `json:"messages"`
}

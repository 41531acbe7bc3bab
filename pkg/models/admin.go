package models

import "time"

// SearchRequest is the body of POST /conversations/search.
type SearchRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SearchResponse carries matching conversation results.
type SearchResponse struct {
	Results []*ConversationResult `json:"results"`
	Query   string                `json:"query"`
}

// RecentConversationsResponse lists the newest conversation results.
type RecentConversationsResponse struct {
	Conversations []*ConversationResult `json:"conversations"`
}

// ConversationDetailResponse is one conversation with its messages.
type ConversationDetailResponse struct {
	ConversationID string     `json:"conversation_id"`
	Messages       []*Message `json:"messages"`
}

// AuditStats summarizes the audit store contents.
type AuditStats struct {
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	Conversations24h   int64 `json:"conversations_24h"`
	Messages24h        int64 `json:"messages_24h"`
}

// StatisticsResponse is the composite body of GET /statistics.
type StatisticsResponse struct {
	Audit               *AuditStats      `json:"audit"`
	AgentMessageCounts  map[string]int64 `json:"agent_message_counts"`
	ActiveConversations int              `json:"active_conversations"`
	CircuitBreakers     map[string]any   `json:"circuit_breakers"`
	Timestamp           time.Time        `json:"timestamp"`
}

// ExportResponse wraps the GET /admin/export payload.
type ExportResponse struct {
	Format string                `json:"format"`
	Days   int                   `json:"days"`
	Data   []*ConversationExport `json:"data"`
}

// CreateAPIKeyRequest is the body of POST /admin/api-keys.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// CreateAPIKeyResponse returns the clear key exactly once, at creation.
type CreateAPIKeyResponse struct {
	KeyID       string   `json:"key_id"`
	APIKey      string   `json:"api_key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// APIKeyListResponse is the body of GET /admin/api-keys.
type APIKeyListResponse struct {
	Keys []*APIKeyInfo `json:"keys"`
}

// APIKeyInfo describes a stored key without its secret material.
type APIKeyInfo struct {
	KeyID       string     `json:"key_id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	IsActive    bool       `json:"is_active"`
	UsageCount  int64      `json:"usage_count"`
}

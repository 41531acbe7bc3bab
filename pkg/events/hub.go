package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Subscriber receives serialized events for one conversation. Send must
// be safe for concurrent use: the hub calls it from whichever goroutine
// publishes.
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

// Hub fans conversation events out to attached subscribers. Payloads are
// marshaled once per publish and written to each subscriber outside the
// hub lock. A subscriber whose Send fails is detached; delivery errors
// never reach the publisher.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]map[string]Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conversations: make(map[string]map[string]Subscriber)}
}

// Attach registers a subscriber for a conversation. Attaching the same
// subscriber id again replaces the previous registration.
func (h *Hub) Attach(conversationID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conversations[conversationID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.conversations[conversationID] = subs
	}
	subs[sub.ID()] = sub
}

// Detach removes a subscriber. Detaching an unknown id is a no-op.
func (h *Hub) Detach(conversationID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conversations[conversationID]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(h.conversations, conversationID)
	}
}

// Publish marshals payload and sends it to every subscriber of the
// conversation. Subscribers that cannot be written to are detached.
func (h *Hub) Publish(conversationID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event payload",
			"conversation_id", conversationID, "error", err)
		return
	}

	h.mu.RLock()
	subs := h.conversations[conversationID]
	snapshot := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	var failed []string
	for _, s := range snapshot {
		if err := s.Send(data); err != nil {
			slog.Warn("Detaching unwritable subscriber",
				"conversation_id", conversationID, "subscriber_id", s.ID(), "error", err)
			failed = append(failed, s.ID())
		}
	}
	for _, id := range failed {
		h.Detach(conversationID, id)
	}
}

// SubscriberCount returns the number of subscribers attached to a
// conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

// TotalSubscribers returns the number of subscribers across all
// conversations.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, subs := range h.conversations {
		total += len(subs)
	}
	return total
}

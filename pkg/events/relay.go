package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/polyagents/polyagents/pkg/bus"
	"github.com/polyagents/polyagents/pkg/models"
)

// relayConsumer is the consumer name inside a relay's private group. The
// group is instance-scoped, so a fixed name is unique enough.
const relayConsumer = "relay"

// StreamSource is the slice of the message bus the relay consumes.
// Implemented by bus.Bus.
type StreamSource interface {
	Subscribe(ctx context.Context, conversationID, group, consumer string, handler bus.Handler) error
}

// Relay bridges bus streams into the hub so that clients connected to
// this instance see messages appended by any producer. Subscriptions are
// reference-counted per conversation and stop when the last local
// subscriber detaches.
//
// Each relay owns a private consumer group, so every instance receives
// every message instead of splitting deliveries with its peers. A fresh
// group starts at the beginning of the stream, which doubles as a replay
// for the conversation's first local subscriber. Messages from a
// same-process orchestrator reach subscribers twice when the relay is
// enabled; both copies carry the same message id, so clients can
// de-duplicate.
type Relay struct {
	source StreamSource
	hub    *Hub
	group  string

	mu   sync.Mutex
	subs map[string]*relaySub
}

type relaySub struct {
	refs   int
	cancel context.CancelFunc
}

// NewRelay creates a relay consuming from source and republishing to hub.
func NewRelay(source StreamSource, hub *Hub) *Relay {
	return &Relay{
		source: source,
		hub:    hub,
		group:  "websocket:" + uuid.NewString(),
		subs:   make(map[string]*relaySub),
	}
}

// Attach ensures a bus subscription exists for the conversation,
// incrementing its reference count.
func (r *Relay) Attach(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[conversationID]; ok {
		sub.refs++
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.source.Subscribe(ctx, conversationID, r.group, relayConsumer, r.republish); err != nil {
		cancel()
		return err
	}
	r.subs[conversationID] = &relaySub{refs: 1, cancel: cancel}
	slog.Debug("Relay subscribed", "conversation_id", conversationID, "group", r.group)
	return nil
}

// Detach releases one attachment, cancelling the bus subscription when
// the count reaches zero. Detaching an unknown conversation is a no-op.
func (r *Relay) Detach(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[conversationID]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	delete(r.subs, conversationID)
	sub.cancel()
	slog.Debug("Relay unsubscribed", "conversation_id", conversationID)
}

// Close cancels every subscription regardless of reference counts.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sub := range r.subs {
		sub.cancel()
		delete(r.subs, id)
	}
}

// republish forwards one bus message to local hub subscribers. It never
// returns an error: WebSocket delivery is best-effort, and a failed
// delivery must not leave the message pending for redelivery.
func (r *Relay) republish(_ context.Context, m *models.Message) error {
	r.hub.Publish(m.ConversationID, NewMessage(m))
	return nil
}

// subscriptionCount reports live subscriptions. Used by tests to poll
// instead of sleeping.
func (r *Relay) subscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

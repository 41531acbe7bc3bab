package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/bus"
	"github.com/polyagents/polyagents/pkg/models"
)

// stubSource records subscriptions without touching Redis.
type stubSource struct {
	mu   sync.Mutex
	err  error
	subs []stubSubscription
}

type stubSubscription struct {
	ctx            context.Context
	conversationID string
	group          string
	consumer       string
	handler        bus.Handler
}

func newStubSource() *stubSource { return &stubSource{} }

func (s *stubSource) Subscribe(ctx context.Context, conversationID, group, consumer string, handler bus.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.subs = append(s.subs, stubSubscription{
		ctx:            ctx,
		conversationID: conversationID,
		group:          group,
		consumer:       consumer,
		handler:        handler,
	})
	return nil
}

func (s *stubSource) subscriptions() []stubSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubSubscription(nil), s.subs...)
}

func TestRelay_AttachIsReferenceCounted(t *testing.T) {
	source := newStubSource()
	relay := NewRelay(source, NewHub())

	require.NoError(t, relay.Attach("conv-1"))
	require.NoError(t, relay.Attach("conv-1"))

	subs := source.subscriptions()
	require.Len(t, subs, 1, "second attach must reuse the subscription")
	assert.Equal(t, 1, relay.subscriptionCount())

	relay.Detach("conv-1")
	assert.NoError(t, subs[0].ctx.Err(), "subscription must survive while attached")

	relay.Detach("conv-1")
	assert.ErrorIs(t, subs[0].ctx.Err(), context.Canceled)
	assert.Zero(t, relay.subscriptionCount())
}

func TestRelay_RepublishesBusMessages(t *testing.T) {
	source := newStubSource()
	hub := NewHub()
	relay := NewRelay(source, hub)
	sub := &fakeSubscriber{id: "client"}
	hub.Attach("conv-1", sub)

	require.NoError(t, relay.Attach("conv-1"))
	handler := source.subscriptions()[0].handler

	err := handler(context.Background(), &models.Message{
		ID:             "m-1",
		ConversationID: "conv-1",
		Sender:         "agent_0",
		Content:        "Red.",
		Turn:           1,
		Timestamp:      time.Now().UTC(),
	})
	require.NoError(t, err)

	frames := sub.received()
	require.Len(t, frames, 1)
	got := decodeFrame(t, frames[0])
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, "Red.", got["message"].(map[string]any)["content"])
}

func TestRelay_HandlerNeverFailsDelivery(t *testing.T) {
	source := newStubSource()
	hub := NewHub()
	relay := NewRelay(source, hub)
	hub.Attach("conv-1", &fakeSubscriber{id: "broken", err: errors.New("gone")})

	require.NoError(t, relay.Attach("conv-1"))
	handler := source.subscriptions()[0].handler

	// Best-effort delivery: a dead subscriber must not leave the bus
	// entry pending.
	err := handler(context.Background(), &models.Message{ID: "m-1", ConversationID: "conv-1", Sender: "agent_0"})
	assert.NoError(t, err)
}

func TestRelay_AttachErrorPropagates(t *testing.T) {
	source := newStubSource()
	source.err = errors.New("redis down")
	relay := NewRelay(source, NewHub())

	require.Error(t, relay.Attach("conv-1"))
	assert.Zero(t, relay.subscriptionCount())

	// A later attach retries from scratch.
	source.err = nil
	require.NoError(t, relay.Attach("conv-1"))
	assert.Equal(t, 1, relay.subscriptionCount())
}

func TestRelay_PrivateGroupPerRelay(t *testing.T) {
	source := newStubSource()
	hub := NewHub()
	first := NewRelay(source, hub)
	second := NewRelay(source, hub)

	require.NoError(t, first.Attach("conv-1"))
	require.NoError(t, second.Attach("conv-1"))

	subs := source.subscriptions()
	require.Len(t, subs, 2)
	assert.True(t, strings.HasPrefix(subs[0].group, "websocket:"))
	assert.True(t, strings.HasPrefix(subs[1].group, "websocket:"))
	assert.NotEqual(t, subs[0].group, subs[1].group,
		"relays sharing a group would split deliveries")
	assert.Equal(t, relayConsumer, subs[0].consumer)
}

func TestRelay_DetachUnknownIsNoop(t *testing.T) {
	relay := NewRelay(newStubSource(), NewHub())
	assert.NotPanics(t, func() { relay.Detach("never-attached") })
}

func TestRelay_CloseCancelsAll(t *testing.T) {
	source := newStubSource()
	relay := NewRelay(source, NewHub())
	require.NoError(t, relay.Attach("conv-1"))
	require.NoError(t, relay.Attach("conv-2"))

	relay.Close()

	assert.Zero(t, relay.subscriptionCount())
	for _, sub := range source.subscriptions() {
		assert.ErrorIs(t, sub.ctx.Err(), context.Canceled)
	}
}

func TestRelay_EndToEndOverBus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewWithClient(client, 1000)
	t.Cleanup(func() { _ = b.Close() })

	hub := NewHub()
	sub := &fakeSubscriber{id: "client"}
	hub.Attach("conv-e2e", sub)

	relay := NewRelay(b, hub)
	require.NoError(t, relay.Attach("conv-e2e"))
	t.Cleanup(relay.Close)

	_, err := b.Append(context.Background(), &models.Message{
		ID:             uuid.NewString(),
		ConversationID: "conv-e2e",
		Sender:         "agent_1",
		Content:        "streamed reply",
		Turn:           1,
		Timestamp:      time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sub.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	got := decodeFrame(t, sub.received()[0])
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, "streamed reply", got["message"].(map[string]any)["content"])
}

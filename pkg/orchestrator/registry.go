package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyagents/polyagents/pkg/fault"
)

// State is a conversation's position in its lifecycle.
type State string

// Lifecycle states. A conversation moves Idle, Running,
// AwaitingConsensus, then Completed or Failed, never backwards.
const (
	StateIdle              State = "idle"
	StateRunning           State = "running"
	StateAwaitingConsensus State = "awaiting_consensus"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// conversation is one registry entry. state and finished are guarded by
// the engine mutex; the rest is immutable after register.
type conversation struct {
	id       string
	state    State
	cancel   context.CancelFunc
	started  time.Time
	finished time.Time
}

// register claims the conversation id and derives the cancellable run
// context. A second claim for a known id fails validation, which keeps
// a conversation's lifecycle from ever being re-entered.
func (e *Engine) register(ctx context.Context, conversationID string) (*conversation, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.conversations[conversationID]; ok {
		return nil, nil, &fault.Error{
			Kind:    fault.KindValidation,
			Op:      "orchestrator.register",
			Message: fmt.Sprintf("conversation %s is already %s", conversationID, existing.state),
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	conv := &conversation{
		id:      conversationID,
		state:   StateIdle,
		cancel:  cancel,
		started: time.Now().UTC(),
	}
	e.conversations[conversationID] = conv
	return conv, runCtx, nil
}

// setState advances the lifecycle and stamps terminal entries.
func (e *Engine) setState(conv *conversation, s State) {
	e.mu.Lock()
	conv.state = s
	if s.Terminal() {
		conv.finished = time.Now().UTC()
	}
	e.mu.Unlock()

	slog.Debug("Conversation state changed", "conversation_id", conv.id, "state", string(s))
}

// StateOf returns the lifecycle state of a registered conversation.
func (e *Engine) StateOf(conversationID string) (State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	conv, ok := e.conversations[conversationID]
	if !ok {
		return "", false
	}
	return conv.state, true
}

// Cancel aborts a running conversation. It reports whether there was an
// active conversation to cancel.
func (e *Engine) Cancel(conversationID string) bool {
	e.mu.RLock()
	conv, ok := e.conversations[conversationID]
	active := ok && !conv.state.Terminal()
	e.mu.RUnlock()

	if !active {
		return false
	}
	conv.cancel()
	return true
}

// CancelAll aborts every active conversation and returns how many were
// cancelled. Used to drain the engine at shutdown.
func (e *Engine) CancelAll() int {
	e.mu.RLock()
	active := make([]*conversation, 0, len(e.conversations))
	for _, conv := range e.conversations {
		if !conv.state.Terminal() {
			active = append(active, conv)
		}
	}
	e.mu.RUnlock()

	for _, conv := range active {
		conv.cancel()
	}
	return len(active)
}

// ActiveCount counts conversations that have not reached a terminal
// state.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, conv := range e.conversations {
		if !conv.state.Terminal() {
			n++
		}
	}
	return n
}

// PruneFinished evicts terminal registry entries older than maxAge and
// returns how many were removed. A pruned id may be reused; the audit
// trail still rejects a second result for it.
func (e *Engine) PruneFinished(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0
	for id, conv := range e.conversations {
		if conv.state.Terminal() && conv.finished.Before(cutoff) {
			delete(e.conversations, id)
			pruned++
		}
	}
	return pruned
}

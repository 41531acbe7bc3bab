// Package orchestrator runs conversations end to end: it fans the user's
// prompt out to the agent team turn by turn over the conversation bus,
// writes every message through the audit trail, and hands the final turn
// to the consensus engine. Each conversation is driven by a single Run
// call and tracked in a registry so it can be cancelled or inspected.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyagents/polyagents/pkg/agent"
	"github.com/polyagents/polyagents/pkg/consensus"
	"github.com/polyagents/polyagents/pkg/events"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// historyLimit caps how much shared context a turn replays to the agents.
const historyLimit = 50

// Breaker names for the engine's dependencies. Agent calls get a
// per-model breaker so one failing model does not gate the rest.
const (
	breakerRedis    = "redis"
	breakerPostgres = "postgres"
	breakerLLM      = "llm:"
)

// MessageStream is the slice of the conversation bus the engine writes
// and reads. Implemented by bus.Bus.
type MessageStream interface {
	Append(ctx context.Context, m *models.Message) (string, error)
	History(ctx context.Context, conversationID string, count int64) ([]*models.Message, error)
}

// AuditSink is the durable trail every message and result goes through.
// Implemented by audit.Store.
type AuditSink interface {
	LogMessage(ctx context.Context, m *models.Message) error
	LogResult(ctx context.Context, r *models.ConversationResult) error
}

// Indexer mirrors finished conversations into the vector store.
// Implemented by vector.Indexer.
type Indexer interface {
	Index(ctx context.Context, r *models.ConversationResult) error
}

// Deps bundles what the engine drives. Indexer may be nil (similarity
// indexing disabled); everything else is required.
type Deps struct {
	Bus       MessageStream
	Audit     AuditSink
	Hub       *events.Hub
	Consensus *consensus.Engine
	Agents    []*agent.Agent
	Executor  *fault.Executor
	Indexer   Indexer
}

// Engine coordinates conversations. One engine serves the whole process;
// each Run call drives a single conversation to a terminal state.
type Engine struct {
	bus       MessageStream
	audit     AuditSink
	hub       *events.Hub
	consensus *consensus.Engine
	agents    []*agent.Agent
	exec      *fault.Executor
	indexer   Indexer

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewEngine wires the engine from its dependencies.
func NewEngine(deps Deps) (*Engine, error) {
	const op = "orchestrator.NewEngine"

	if deps.Bus == nil || deps.Audit == nil || deps.Hub == nil || deps.Consensus == nil || deps.Executor == nil {
		return nil, &fault.Error{
			Kind:    fault.KindConfiguration,
			Op:      op,
			Message: "bus, audit, hub, consensus, and executor are required",
		}
	}
	if len(deps.Agents) == 0 {
		return nil, &fault.Error{
			Kind:    fault.KindConfiguration,
			Op:      op,
			Message: "at least one agent is required",
		}
	}

	return &Engine{
		bus:           deps.Bus,
		audit:         deps.Audit,
		hub:           deps.Hub,
		consensus:     deps.Consensus,
		agents:        deps.Agents,
		exec:          deps.Executor,
		indexer:       deps.Indexer,
		conversations: make(map[string]*conversation),
	}, nil
}

// Outcome is what a completed conversation hands back to its caller.
// ConsensusMessageID identifies the message whose content is FinalAnswer;
// AgentReplies are the final turn's contributions in agent order.
type Outcome struct {
	ConversationID     string
	ConsensusMessageID string
	FinalAnswer        string
	AgentReplies       []models.AgentReply
	Consensus          *models.ConsensusOutcome
	Result             *models.ConversationResult
}

// RunRequest describes one conversation run.
type RunRequest struct {
	ConversationID string
	Prompt         string
	// Turns is the number of agent rounds; zero sends the user's message
	// straight to consensus.
	Turns int
	// NumAgents caps the responding team for this run. Zero means the
	// whole team; values beyond the team size use the whole team.
	NumAgents int
}

// Run drives one conversation to a terminal state and blocks until it
// gets there. The conversation id must not have been run before.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	const op = "orchestrator.Run"

	if req.ConversationID == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Message: "conversation id is required"}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Message: "prompt must not be empty"}
	}
	if req.Turns < 0 {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Message: "turns must not be negative"}
	}
	if req.NumAgents < 0 {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Message: "num_agents must not be negative"}
	}

	team := e.agents
	if req.NumAgents > 0 && req.NumAgents < len(team) {
		team = team[:req.NumAgents]
	}

	conv, runCtx, err := e.register(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer conv.cancel()

	outcome, err := e.converse(runCtx, conv, req.Prompt, req.Turns, team)
	if err != nil {
		if runCtx.Err() != nil {
			err = &fault.Error{Kind: fault.KindCancelled, Op: op, Message: "conversation cancelled", Err: runCtx.Err()}
		}
		e.setState(conv, StateFailed)
		e.hub.Publish(conv.id, events.NewError(conv.id, err))
		slog.Error("Conversation failed",
			"conversation_id", conv.id, "kind", string(fault.KindOf(err)), "error", err)
		return nil, err
	}

	e.setState(conv, StateCompleted)
	return outcome, nil
}

// converse is the conversation loop proper: user message, agent turns,
// consensus, terminal result.
func (e *Engine) converse(ctx context.Context, conv *conversation, prompt string, turns int, team []*agent.Agent) (*Outcome, error) {
	e.setState(conv, StateRunning)
	start := time.Now()

	log := slog.With("conversation_id", conv.id)
	log.Info("Conversation started", "turns", turns, "agents", len(team))

	// Turn 0: the user's message opens the conversation. Subscribers see
	// it first, then it is made durable.
	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.id,
		Sender:         models.SenderUser,
		Content:        prompt,
		Turn:           0,
		Timestamp:      time.Now().UTC(),
	}
	e.hub.Publish(conv.id, events.NewConversationStarted(conv.id, prompt, turns))
	e.hub.Publish(conv.id, events.NewMessage(userMsg))
	if err := e.logMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	if err := e.appendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	totalMessages := 1
	var finalReplies []*models.Message
	for turn := 1; turn <= turns; turn++ {
		replies, err := e.runTurn(ctx, conv, turn, team)
		if err != nil {
			return nil, err
		}
		totalMessages += len(replies)
		finalReplies = replies
	}

	e.setState(conv, StateAwaitingConsensus)
	e.hub.Publish(conv.id, events.NewConsensusStarted())

	decision, err := e.decide(ctx, userMsg, finalReplies, len(team))
	if err != nil {
		return nil, err
	}

	// The consensus verdict joins the conversation as its closing
	// message, one turn past the last agent round.
	consensusMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.id,
		Sender:         models.SenderConsensus,
		Content:        decision.FinalAnswer,
		Turn:           turns + 1,
		Timestamp:      time.Now().UTC(),
		Metadata:       map[string]any{"method": decision.Method},
	}
	if err := e.logMessage(ctx, consensusMsg); err != nil {
		return nil, err
	}
	if err := e.appendMessage(ctx, consensusMsg); err != nil {
		return nil, err
	}
	totalMessages++

	duration := time.Since(start).Seconds()
	result := &models.ConversationResult{
		ConversationID:  conv.id,
		Prompt:          prompt,
		FinalAnswer:     decision.FinalAnswer,
		TotalTurns:      turns,
		TotalMessages:   totalMessages,
		CreatedAt:       time.Now().UTC(),
		DurationSeconds: &duration,
	}
	if err := e.logResult(ctx, result); err != nil {
		return nil, err
	}

	e.hub.Publish(conv.id, events.NewConsensusReached(*decision))
	e.hub.Publish(conv.id, events.NewConversationCompleted(conv.id, totalMessages, decision.FinalAnswer))

	e.indexConversation(ctx, result)

	log.Info("Conversation completed",
		"method", decision.Method, "messages", totalMessages, "duration", time.Since(start))

	replies := make([]models.AgentReply, 0, len(finalReplies))
	for _, m := range finalReplies {
		replies = append(replies, models.AgentReply{AgentID: m.Sender, Content: m.Content, Turn: m.Turn})
	}
	return &Outcome{
		ConversationID:     conv.id,
		ConsensusMessageID: consensusMsg.ID,
		FinalAnswer:        decision.FinalAnswer,
		AgentReplies:       replies,
		Consensus:          decision,
		Result:             result,
	}, nil
}

// agentResult is one agent's report at the turn barrier.
type agentResult struct {
	index int
	reply string
	err   error
}

// runTurn fans the shared history out to every agent in parallel, waits
// for all of them, and writes the surviving replies in agent order. A
// failed agent abstains from the turn; a turn where every agent fails
// aborts the conversation.
func (e *Engine) runTurn(ctx context.Context, conv *conversation, turn int, team []*agent.Agent) ([]*models.Message, error) {
	e.hub.Publish(conv.id, events.NewTurnStarted(turn, len(team)))

	// One history read per turn: every agent sees the same snapshot.
	history, err := e.historyFor(ctx, conv.id)
	if err != nil {
		return nil, err
	}

	results := make(chan agentResult, len(team))
	for i, ag := range team {
		e.hub.Publish(conv.id, events.NewAgentThinking(ag.ID(), turn))
		go func(index int, ag *agent.Agent) {
			reply, err := e.callAgent(ctx, ag, history)
			results <- agentResult{index: index, reply: reply, err: err}
		}(i, ag)
	}

	// Barrier: every agent reports before any reply is written, so the
	// next turn's history is complete and identically ordered for all.
	collected := make([]agentResult, 0, len(team))
	for range team {
		collected = append(collected, <-results)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	replies := make([]*models.Message, 0, len(team))
	for _, res := range collected {
		ag := team[res.index]
		if res.err != nil {
			slog.Warn("Agent abstains from turn",
				"conversation_id", conv.id, "agent_id", ag.ID(), "turn", turn,
				"kind", string(fault.KindOf(res.err)), "error", res.err)
			e.hub.Publish(conv.id, events.NewAgentError(ag.ID(), turn, res.err))
			continue
		}

		msg := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.id,
			Sender:         ag.ID(),
			Content:        res.reply,
			Turn:           turn,
			Timestamp:      time.Now().UTC(),
			Metadata:       map[string]any{"model": ag.Model()},
		}
		if err := e.logMessage(ctx, msg); err != nil {
			return nil, err
		}
		if err := e.appendMessage(ctx, msg); err != nil {
			return nil, err
		}
		e.hub.Publish(conv.id, events.NewAgentResponse(msg))
		replies = append(replies, msg)
	}

	if len(replies) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fault.Wrap(fault.KindCancelled, "orchestrator.turn", err)
		}
		return nil, &fault.Error{
			Kind:    fault.KindNoAgentResponses,
			Op:      "orchestrator.turn",
			Message: fmt.Sprintf("no agent produced a response in turn %d", turn),
		}
	}

	e.hub.Publish(conv.id, events.NewTurnCompleted(turn, len(replies)))
	return replies, nil
}

// decide selects the consensus input and runs the engine. A zero-turn
// conversation puts the user's message itself to the vote; a one-agent
// team skips the vote and adopts its reply.
func (e *Engine) decide(ctx context.Context, userMsg *models.Message, finalReplies []*models.Message, teamSize int) (*models.ConsensusOutcome, error) {
	var input []*models.Message
	switch {
	case len(finalReplies) == 0:
		input = []*models.Message{userMsg}
	case teamSize == 1:
		input = finalReplies
	default:
		input = append(make([]*models.Message, 0, len(finalReplies)+1), userMsg)
		input = append(input, finalReplies...)
	}
	return e.consensus.ReachConsensus(ctx, input)
}

// callAgent runs one agent through the retry and breaker layer.
func (e *Engine) callAgent(ctx context.Context, ag *agent.Agent, history []*models.Message) (string, error) {
	var reply string
	err := e.exec.Execute(ctx, "agent.respond", breakerLLM+ag.Model(), func(ctx context.Context) error {
		var err error
		reply, err = ag.Respond(ctx, history)
		return err
	})
	return reply, err
}

// logMessage writes through the audit trail with retry and the postgres
// breaker. History is never sacrificed: persistent failure aborts the
// conversation.
func (e *Engine) logMessage(ctx context.Context, m *models.Message) error {
	return e.exec.Execute(ctx, "audit.log_message", breakerPostgres, func(ctx context.Context) error {
		return e.audit.LogMessage(ctx, m)
	})
}

func (e *Engine) logResult(ctx context.Context, r *models.ConversationResult) error {
	return e.exec.Execute(ctx, "audit.log_result", breakerPostgres, func(ctx context.Context) error {
		return e.audit.LogResult(ctx, r)
	})
}

func (e *Engine) appendMessage(ctx context.Context, m *models.Message) error {
	return e.exec.Execute(ctx, "bus.append", breakerRedis, func(ctx context.Context) error {
		_, err := e.bus.Append(ctx, m)
		return err
	})
}

func (e *Engine) historyFor(ctx context.Context, conversationID string) ([]*models.Message, error) {
	var history []*models.Message
	err := e.exec.Execute(ctx, "bus.history", breakerRedis, func(ctx context.Context) error {
		var err error
		history, err = e.bus.History(ctx, conversationID, historyLimit)
		return err
	})
	return history, err
}

// indexConversation mirrors the finished conversation into the vector
// store. Best effort: a failed upsert is logged, never fatal.
func (e *Engine) indexConversation(ctx context.Context, r *models.ConversationResult) {
	if e.indexer == nil {
		return
	}
	if err := e.indexer.Index(ctx, r); err != nil {
		slog.Warn("Vector indexing failed", "conversation_id", r.ConversationID, "error", err)
	}
}

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
	"github.com/polyagents/polyagents/test/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(util.SetupTestDatabase(t))
}

func testMessage(conversationID, sender string, turn int, ts time.Time) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        fmt.Sprintf("%s says something in turn %d", sender, turn),
		Turn:           turn,
		Timestamp:      ts,
	}
}

func testResult(conversationID, prompt, answer string, createdAt time.Time) *models.ConversationResult {
	duration := 1.5
	return &models.ConversationResult{
		ConversationID:  conversationID,
		Prompt:          prompt,
		FinalAnswer:     answer,
		TotalTurns:      2,
		TotalMessages:   7,
		CreatedAt:       createdAt,
		DurationSeconds: &duration,
	}
}

func TestStore_LogAndFetchMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	conversationID := uuid.NewString()

	first := testMessage(conversationID, models.SenderUser, 0, base)
	first.Metadata = map[string]any{"model": "gemini-2.0-flash"}
	second := testMessage(conversationID, "agent_0", 1, base.Add(time.Second))
	third := testMessage(conversationID, "agent_1", 1, base.Add(2*time.Second))

	// Insert out of order; reads must come back chronological.
	require.NoError(t, store.LogMessage(ctx, third))
	require.NoError(t, store.LogMessage(ctx, first))
	require.NoError(t, store.LogMessage(ctx, second))

	messages, err := store.MessagesFor(ctx, conversationID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, second.ID, messages[1].ID)
	assert.Equal(t, third.ID, messages[2].ID)
	assert.Equal(t, map[string]any{"model": "gemini-2.0-flash"}, messages[0].Metadata)
	assert.True(t, messages[0].Timestamp.Equal(base))

	// Pagination.
	page, err := store.MessagesFor(ctx, conversationID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)

	// Unknown conversation is empty, not an error.
	none, err := store.MessagesFor(ctx, "no-such-conversation", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_LogMessageDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testMessage(uuid.NewString(), models.SenderUser, 0, time.Now().UTC())
	require.NoError(t, store.LogMessage(ctx, m))

	err := store.LogMessage(ctx, m)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestStore_ResultRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conversationID := uuid.NewString()

	missing, err := store.ResultFor(ctx, conversationID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	created := time.Now().UTC().Truncate(time.Millisecond)
	result := testResult(conversationID, "What is consensus?", "Agreement under adversity.", created)
	require.NoError(t, store.LogResult(ctx, result))

	got, err := store.ResultFor(ctx, conversationID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.Prompt, got.Prompt)
	assert.Equal(t, result.FinalAnswer, got.FinalAnswer)
	assert.Equal(t, result.TotalTurns, got.TotalTurns)
	assert.Equal(t, result.TotalMessages, got.TotalMessages)
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.DurationSeconds)
	assert.InDelta(t, 1.5, *got.DurationSeconds, 0.0001)

	// A conversation completes exactly once.
	err = store.LogResult(ctx, result)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestStore_RecentResultsAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	oldest := testResult(uuid.NewString(), "Design a Redis schema", "Use streams.", now.Add(-2*time.Hour))
	middle := testResult(uuid.NewString(), "Explain quorum reads", "Majorities overlap.", now.Add(-time.Hour))
	newest := testResult(uuid.NewString(), "Pick a database", "PostgreSQL, for the audit trail.", now)

	for _, r := range []*models.ConversationResult{oldest, middle, newest} {
		require.NoError(t, store.LogResult(ctx, r))
	}

	recent, err := store.RecentResults(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, newest.ConversationID, recent[0].ConversationID)
	assert.Equal(t, middle.ConversationID, recent[1].ConversationID)

	// Case-insensitive, matches prompt or final answer.
	hits, err := store.Search(ctx, "REDIS", 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, oldest.ConversationID, hits[0].ConversationID)

	hits, err = store.Search(ctx, "postgresql", 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, newest.ConversationID, hits[0].ConversationID)

	hits, err = store.Search(ctx, "kubernetes", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_StatsAndAgentStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	conversationID := uuid.NewString()

	require.NoError(t, store.LogResult(ctx, testResult(conversationID, "p", "a", now)))
	require.NoError(t, store.LogResult(ctx, testResult(uuid.NewString(), "old", "old", now.Add(-48*time.Hour))))

	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, models.SenderUser, 0, now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agent_0", 1, now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agent_0", 2, now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agent_1", 1, now)))
	// The underscore in the agent pattern is escaped; "agentx" must not count.
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agentx", 1, now)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalConversations)
	assert.EqualValues(t, 5, stats.TotalMessages)
	assert.EqualValues(t, 1, stats.Conversations24h)
	assert.EqualValues(t, 5, stats.Messages24h)

	agents, err := store.AgentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"agent_0": 2, "agent_1": 1}, agents)
}

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	oldID := uuid.NewString()
	freshID := uuid.NewString()

	require.NoError(t, store.LogResult(ctx, testResult(oldID, "stale", "stale", now.AddDate(0, 0, -40))))
	require.NoError(t, store.LogResult(ctx, testResult(freshID, "fresh", "fresh", now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(oldID, "agent_0", 1, now.AddDate(0, 0, -40))))
	require.NoError(t, store.LogMessage(ctx, testMessage(oldID, "agent_1", 1, now.AddDate(0, 0, -40))))
	require.NoError(t, store.LogMessage(ctx, testMessage(freshID, "agent_0", 1, now)))

	conversations, messages, err := store.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, conversations)
	assert.EqualValues(t, 2, messages)

	gone, err := store.ResultFor(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.MessagesFor(ctx, freshID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestStore_ExportAndTimeline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	conversationID := uuid.NewString()

	require.NoError(t, store.LogResult(ctx, testResult(conversationID, "prompt", "answer", now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, models.SenderUser, 0, now)))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agent_0", 1, now.Add(time.Second))))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, "agent_1", 1, now.Add(2*time.Second))))
	require.NoError(t, store.LogMessage(ctx, testMessage(conversationID, models.SenderConsensus, 2, now.Add(3*time.Second))))

	exports, err := store.Export(ctx, 7)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, conversationID, exports[0].ConversationID)
	require.Len(t, exports[0].Messages, 4)
	assert.Equal(t, models.SenderUser, exports[0].Messages[0].Sender)
	assert.Equal(t, models.SenderConsensus, exports[0].Messages[3].Sender)

	all, err := store.Export(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1, "days <= 0 exports everything")

	timeline, err := store.Timeline(ctx, conversationID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, 0, timeline[0].Turn)
	assert.Equal(t, 1, timeline[1].Turn)
	assert.Len(t, timeline[1].Messages, 2)
	assert.Equal(t, 2, timeline[2].Turn)
}

func TestStore_APIKeyLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	info := &models.APIKeyInfo{
		KeyID:       uuid.NewString(),
		Name:        "ci-pipeline",
		Permissions: []string{"chat:write", "read"},
		CreatedAt:   time.Now().UTC(),
		IsActive:    true,
	}
	hash := "4f2d" + uuid.NewString()

	require.NoError(t, store.InsertAPIKey(ctx, info, hash))

	// Same hash cannot be registered twice.
	dup := *info
	dup.KeyID = uuid.NewString()
	err := store.InsertAPIKey(ctx, &dup, hash)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	got, err := store.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info.KeyID, got.KeyID)
	assert.Equal(t, []string{"chat:write", "read"}, got.Permissions)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastUsed)

	unknown, err := store.APIKeyByHash(ctx, "not-a-hash")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	require.NoError(t, store.TouchAPIKey(ctx, info.KeyID))
	require.NoError(t, store.TouchAPIKey(ctx, info.KeyID))

	got, err = store.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.UsageCount)
	assert.NotNil(t, got.LastUsed)

	revoked, err := store.RevokeAPIKey(ctx, info.KeyID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revoked keys stay visible so auth can fail closed on them.
	got, err = store.APIKeyByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)

	revoked, err = store.RevokeAPIKey(ctx, info.KeyID)
	require.NoError(t, err)
	assert.False(t, revoked, "second revoke is a no-op")

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci-pipeline", keys[0].Name)
}

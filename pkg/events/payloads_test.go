package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/models"
)

// marshalToMap round-trips a payload through JSON so tests assert the
// exact wire shape clients depend on.
func marshalToMap(t *testing.T, payload any) map[string]any {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestPayloads_ConversationStarted(t *testing.T) {
	got := marshalToMap(t, NewConversationStarted("conv-1", "Pick a color.", 2))
	assert.Equal(t, map[string]any{
		"type":            "conversation_started",
		"conversation_id": "conv-1",
		"prompt":          "Pick a color.",
		"total_turns":     float64(2),
	}, got)
}

func TestPayloads_MessageAndAgentResponseShareBody(t *testing.T) {
	msg := &models.Message{
		ID:             "m-1",
		ConversationID: "conv-1",
		Sender:         "agent_0",
		Content:        "Red.",
		Turn:           1,
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	wantBody := map[string]any{
		"id":        "m-1",
		"sender":    "agent_0",
		"content":   "Red.",
		"turn":      float64(1),
		"timestamp": "2025-06-01T12:00:00Z",
	}

	plain := marshalToMap(t, NewMessage(msg))
	assert.Equal(t, "message", plain["type"])
	assert.Equal(t, wantBody, plain["message"])

	reply := marshalToMap(t, NewAgentResponse(msg))
	assert.Equal(t, "agent_response", reply["type"])
	assert.Equal(t, wantBody, reply["message"])
}

func TestPayloads_AgentError(t *testing.T) {
	got := marshalToMap(t, NewAgentError("agent_2", 1, errors.New("model timed out")))
	assert.Equal(t, map[string]any{
		"type":     "agent_error",
		"agent_id": "agent_2",
		"error":    "model timed out",
		"turn":     float64(1),
	}, got)
}

func TestPayloads_ConsensusStarted(t *testing.T) {
	got := marshalToMap(t, NewConsensusStarted())
	assert.Equal(t, map[string]any{
		"type":    "consensus_started",
		"message": "Agents reaching consensus...",
	}, got)
}

func TestPayloads_ConsensusReached(t *testing.T) {
	got := marshalToMap(t, NewConsensusReached(models.ConsensusOutcome{
		FinalAnswer:  "Red.",
		WinningVotes: 2,
		TotalVotes:   3,
		Method:       models.MethodMajorityVote,
	}))
	assert.Equal(t, "consensus_reached", got["type"])
	assert.Equal(t, map[string]any{
		"final_answer":  "Red.",
		"winning_votes": float64(2),
		"total_votes":   float64(3),
		"method":        "majority_vote_with_tiebreak",
	}, got["consensus"])
}

func TestPayloads_ConversationCompleted(t *testing.T) {
	got := marshalToMap(t, NewConversationCompleted("conv-1", 8, "Red."))
	assert.Equal(t, map[string]any{
		"type":            "conversation_completed",
		"conversation_id": "conv-1",
		"total_messages":  float64(8),
		"final_answer":    "Red.",
	}, got)
}

func TestPayloads_ErrorOmitsEmptyConversationID(t *testing.T) {
	withID := marshalToMap(t, NewError("conv-1", errors.New("no valid agent responses")))
	assert.Equal(t, map[string]any{
		"type":            "error",
		"message":         "no valid agent responses",
		"conversation_id": "conv-1",
	}, withID)

	withoutID := marshalToMap(t, NewError("", errors.New("boom")))
	assert.NotContains(t, withoutID, "conversation_id")
}

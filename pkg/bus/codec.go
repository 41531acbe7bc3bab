package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyagents/polyagents/pkg/models"
)

const streamPrefix = "chat:"

// ConversationStream returns the stream key for a conversation.
func ConversationStream(conversationID string) string {
	return streamPrefix + conversationID
}

// ParseStreamID splits a Redis stream id ("1700000000000-3") into its
// millisecond timestamp and sequence parts. Ids must be ordered by these
// numbers, never as strings.
func ParseStreamID(id string) (ms int64, seq int64, err error) {
	tsPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err = strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stream id %q: %v", id, err)
	}
	seq, err = strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stream id %q: %v", id, err)
	}
	return ms, seq, nil
}

// CompareStreamIDs orders two stream ids numerically, returning -1, 0, or
// 1. Malformed ids sort first.
func CompareStreamIDs(a, b string) int {
	ams, aseq, aerr := ParseStreamID(a)
	bms, bseq, berr := ParseStreamID(b)
	switch {
	case aerr != nil && berr != nil:
		return 0
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	}
	if ams != bms {
		if ams < bms {
			return -1
		}
		return 1
	}
	if aseq != bseq {
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

// encodeMessage flattens a message into stream fields. Every value is a
// string; metadata rides as JSON.
func encodeMessage(m *models.Message) (map[string]any, error) {
	meta := "{}"
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		meta = string(raw)
	}
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender":          m.Sender,
		"content":         m.Content,
		"turn":            strconv.Itoa(m.Turn),
		"timestamp":       m.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata":        meta,
	}, nil
}

// decodeEntry rebuilds a message from stream fields.
func decodeEntry(conversationID string, entry redis.XMessage) (*models.Message, error) {
	id := fieldString(entry.Values, "id")
	if id == "" {
		return nil, fmt.Errorf("entry %s: missing id field", entry.ID)
	}

	turn, err := strconv.Atoi(fieldString(entry.Values, "turn"))
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad turn: %v", entry.ID, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, fieldString(entry.Values, "timestamp"))
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad timestamp: %v", entry.ID, err)
	}

	m := &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         fieldString(entry.Values, "sender"),
		Content:        fieldString(entry.Values, "content"),
		Turn:           turn,
		Timestamp:      ts,
	}
	if cid := fieldString(entry.Values, "conversation_id"); cid != "" {
		m.ConversationID = cid
	}

	if raw := fieldString(entry.Values, "metadata"); raw != "" && raw != "{}" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("entry %s: bad metadata: %v", entry.ID, err)
		}
		m.Metadata = meta
	}
	return m, nil
}

func fieldString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

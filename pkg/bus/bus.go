// Package bus implements the per-conversation message stream on Redis
// Streams: appends, history reads, real-time tails, consumer-group
// subscriptions with acknowledgement, and retention cleanup.
//
// Streams are keyed "chat:<conversation_id>" and capped at a configured
// maximum length. Delivery through consumer groups is at-least-once:
// unacknowledged messages stay pending and are redelivered.
package bus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

const (
	// DefaultOpTimeout bounds unary bus operations when the caller's
	// context carries no deadline.
	DefaultOpTimeout = 5 * time.Second

	// readBatchSize caps messages per consumer-group delivery.
	readBatchSize = 10

	// blockInterval is how long a poll blocks waiting for new entries.
	blockInterval = time.Second

	// reconnectDelay is the pause before a subscriber retries after a
	// read failure.
	reconnectDelay = time.Second
)

// Bus is the Redis Streams message bus.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
}

// New creates a Bus with its own Redis client.
func New(cfg config.RedisConfig) *Bus {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	return NewWithClient(client, cfg.StreamMaxLen)
}

// NewWithClient creates a Bus over an existing Redis client. The Bus takes
// ownership and closes the client on Close.
func NewWithClient(client *redis.Client, maxLen int64) *Bus {
	return &Bus{rdb: client, maxLen: maxLen}
}

// Append writes a message to its conversation stream, trimming the stream
// to roughly maxLen entries, and returns the server-assigned "ts-seq" id.
func (b *Bus) Append(ctx context.Context, m *models.Message) (string, error) {
	values, err := encodeMessage(m)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, "bus.append", err)
	}

	ctx, cancel := b.opContext(ctx)
	defer cancel()

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ConversationStream(m.ConversationID),
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fault.Wrap(fault.KindDependency, "bus.append", err)
	}
	return id, nil
}

// History returns the most recent count messages of a conversation in
// chronological order. Malformed entries are skipped.
func (b *Bus) History(ctx context.Context, conversationID string, count int64) ([]*models.Message, error) {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	entries, err := b.rdb.XRevRangeN(ctx, ConversationStream(conversationID), "+", "-", count).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, "bus.history", err)
	}

	msgs := make([]*models.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		m, err := decodeEntry(conversationID, entries[i])
		if err != nil {
			slog.Warn("Skipping malformed stream entry",
				"conversation_id", conversationID, "stream_id", entries[i].ID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ActiveConversations lists conversations whose stream holds at least one
// entry, sorted for stable output.
func (b *Bus) ActiveConversations(ctx context.Context) ([]string, error) {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	var out []string
	iter := b.rdb.Scan(ctx, 0, streamPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := b.rdb.XLen(ctx, key).Result()
		if err != nil || n == 0 {
			continue
		}
		out = append(out, strings.TrimPrefix(key, streamPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependency, "bus.active_conversations", err)
	}
	sort.Strings(out)
	return out, nil
}

// Cleanup deletes conversation streams whose newest entry is older than
// maxAge and returns the number of streams dropped.
func (b *Bus) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	dropped := 0

	iter := b.rdb.Scan(ctx, 0, streamPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entries, err := b.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
		if err != nil || len(entries) == 0 {
			continue
		}
		ms, _, err := ParseStreamID(entries[0].ID)
		if err != nil {
			slog.Warn("Skipping stream with malformed last id", "stream", key, "id", entries[0].ID)
			continue
		}
		if time.UnixMilli(ms).Before(cutoff) {
			if err := b.rdb.Del(ctx, key).Err(); err != nil {
				slog.Warn("Failed to drop stale stream", "stream", key, "error", err)
				continue
			}
			dropped++
		}
	}
	if err := iter.Err(); err != nil {
		return dropped, fault.Wrap(fault.KindDependency, "bus.cleanup", err)
	}
	return dropped, nil
}

// Ping verifies connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fault.Wrap(fault.KindDependency, "bus.ping", err)
	}
	return nil
}

// Close releases the Redis client. Cancel subscriber contexts first.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// opContext applies the default per-operation deadline unless the caller
// already set one.
func (b *Bus) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultOpTimeout)
}

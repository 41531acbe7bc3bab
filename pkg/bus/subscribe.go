package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// Handler processes one delivered message. A nil return acknowledges the
// message; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, m *models.Message) error

// Subscribe creates the consumer group if absent and starts a reader that
// delivers new messages in batches of at most 10 to handler, acknowledging
// each one the handler accepts. The reader runs until ctx is cancelled and
// survives connection loss with a 1 s reconnect backoff.
func (b *Bus) Subscribe(ctx context.Context, conversationID, group, consumer string, handler Handler) error {
	stream := ConversationStream(conversationID)
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return err
	}
	go b.consumeLoop(ctx, conversationID, stream, group, consumer, handler)
	return nil
}

// ensureGroup creates the consumer group from the stream start, treating
// an already existing group as success.
func (b *Bus) ensureGroup(ctx context.Context, stream, group string) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fault.Wrap(fault.KindDependency, "bus.subscribe", err)
	}
	return nil
}

func (b *Bus) consumeLoop(ctx context.Context, conversationID, stream, group, consumer string, handler Handler) {
	log := slog.With("stream", stream, "group", group, "consumer", consumer)
	log.Debug("Subscriber started")

	for {
		if ctx.Err() != nil {
			log.Debug("Subscriber stopped")
			return
		}

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    readBatchSize,
			Block:    blockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // poll timeout, nothing new
			}
			if ctx.Err() != nil {
				log.Debug("Subscriber stopped")
				return
			}
			log.Warn("Subscriber read failed, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		for _, s := range res {
			for _, entry := range s.Messages {
				b.deliver(ctx, log, conversationID, stream, group, entry, handler)
			}
		}
	}
}

// deliver hands one entry to the handler and acknowledges it on success.
// Malformed entries are acknowledged and dropped so they cannot wedge the
// group; handler failures leave the entry pending for redelivery.
func (b *Bus) deliver(ctx context.Context, log *slog.Logger, conversationID, stream, group string, entry redis.XMessage, handler Handler) {
	m, err := decodeEntry(conversationID, entry)
	if err != nil {
		log.Warn("Dropping malformed entry", "stream_id", entry.ID, "error", err)
		if ackErr := b.rdb.XAck(ctx, stream, group, entry.ID).Err(); ackErr != nil {
			log.Warn("Ack of malformed entry failed", "stream_id", entry.ID, "error", ackErr)
		}
		return
	}

	if err := handler(ctx, m); err != nil {
		log.Warn("Handler failed, message stays pending", "stream_id", entry.ID, "error", err)
		return
	}

	if err := b.rdb.XAck(ctx, stream, group, entry.ID).Err(); err != nil {
		log.Warn("Ack failed", "stream_id", entry.ID, "error", err)
	}
}

// Tail streams messages appended after fromID until ctx is cancelled,
// closing the returned channel on exit. Use "0" to start from the
// beginning and "$" for only new entries. The tail is restartable: resume
// by passing the last seen stream id.
func (b *Bus) Tail(ctx context.Context, conversationID, fromID string) <-chan *models.Message {
	out := make(chan *models.Message)
	stream := ConversationStream(conversationID)

	go func() {
		defer close(out)
		last := fromID
		for {
			if ctx.Err() != nil {
				return
			}

			res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, last},
				Count:   readBatchSize,
				Block:   blockInterval,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Tail read failed, retrying",
					"conversation_id", conversationID, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				continue
			}

			for _, s := range res {
				for _, entry := range s.Messages {
					last = entry.ID
					m, err := decodeEntry(conversationID, entry)
					if err != nil {
						slog.Warn("Skipping malformed entry in tail",
							"conversation_id", conversationID, "stream_id", entry.ID, "error", err)
						continue
					}
					select {
					case out <- m:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

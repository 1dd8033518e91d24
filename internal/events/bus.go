// Package events publishes memory lifecycle notifications over Redis
// Streams so downstream consumers (analytics pipelines, audit tooling)
// can react without coupling into the memory subsystem.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillback/mnemo/internal/memory"
)

const (
	streamPrefix = "mnemo:events:"

	StreamMemoryStored  = streamPrefix + "memory.stored"
	StreamContextUpdate = streamPrefix + "context.updated"
	StreamConsolidation = streamPrefix + "consolidation.completed"

	// maxStreamLen bounds each stream; Redis trims approximately.
	maxStreamLen = 10000
)

// Bus is a Redis Streams publisher. It implements memory.EventSink.
// Publishing is best-effort: a Redis outage never fails the memory
// operation that triggered the event.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger.Named("events")}, nil
}

// Event is the envelope written to every stream.
type Event struct {
	UserID    string      `json:"user_id"`
	AgentID   string      `json:"agent_id,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func (b *Bus) publish(ctx context.Context, stream string, ev *Event) {
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("dropping unmarshalable event", zap.String("stream", stream), zap.Error(err))
		return
	}
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		b.logger.Warn("event publish failed", zap.String("stream", stream), zap.Error(err))
		return
	}
	b.logger.Debug("published event", zap.String("stream", stream), zap.String("user", ev.UserID))
}

// MemoryStored announces a newly stored memory item.
func (b *Bus) MemoryStored(ctx context.Context, item *memory.Item) {
	b.publish(ctx, StreamMemoryStored, &Event{
		UserID:  item.UserID,
		AgentID: item.AgentID,
		Payload: map[string]interface{}{
			"memory_id":   item.ID,
			"memory_type": string(item.Type),
			"importance":  item.Importance,
		},
	})
}

// ContextUpdated announces a new context snapshot.
func (b *Bus) ContextUpdated(ctx context.Context, snap *memory.Snapshot) {
	b.publish(ctx, StreamContextUpdate, &Event{
		UserID:  snap.UserID,
		AgentID: snap.AgentID,
		Payload: map[string]interface{}{
			"snapshot_id":       snap.ID,
			"interaction_count": snap.InteractionCount,
		},
	})
}

// ConsolidationCompleted announces a finished consolidation pass.
func (b *Bus) ConsolidationCompleted(ctx context.Context, userID string, result *memory.ConsolidationResult) {
	b.publish(ctx, StreamConsolidation, &Event{
		UserID:  userID,
		Payload: result,
	})
}

// Subscribe tails one event stream. The channel closes when the context
// is cancelled.
func (b *Bus) Subscribe(ctx context.Context, stream string) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Package bus publishes run lifecycle events over Redis Streams so
// operational consumers can follow a run without polling the API.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "overseer:run:"

// EventBus publishes and consumes run events via Redis Streams.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed event bus.
func New(redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

// PublishRunEvent appends an event to the run's stream.
func (b *EventBus) PublishRunEvent(ctx context.Context, ev *orchestrator.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	stream := streamPrefix + ev.RunID
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published run event",
		zap.String("run", ev.RunID),
		zap.String("type", ev.Type),
		zap.String("task", ev.TaskID))
	return nil
}

// Subscribe listens for events on a run's stream from the beginning.
// Returns a channel that emits events. Cancel the context to stop.
func (b *EventBus) Subscribe(ctx context.Context, runID string) <-chan *orchestrator.RunEvent {
	ch := make(chan *orchestrator.RunEvent, 16)
	stream := streamPrefix + runID

	go func() {
		defer close(ch)
		lastID := "0"

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
					var ev orchestrator.RunEvent
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
func (b *EventBus) Close() error {
	return b.rdb.Close()
}

var _ orchestrator.EventPublisher = (*EventBus)(nil)

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"callsignal/internal/calls"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans committed lifecycle events out over Redis Pub/Sub.
// The signaling layer (an external system) subscribes to the channel and
// forwards events to connected clients; delivery retries are its problem,
// not ours. Publish failures are reported to the caller, which logs and
// moves on; the transition has already committed.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) (*RedisPublisher, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev calls.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

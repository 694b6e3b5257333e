package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"callsignal/internal/calls"

	"github.com/redis/go-redis/v9"
)

// pushPayload is what the external push-delivery worker consumes.
type pushPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	CallID string `json:"call_id"`
	Kind   string `json:"kind"`
	SentAt string `json:"sent_at"`
}

// QueueNotifier enqueues incoming-call push notifications onto a Redis list
// drained by an external delivery worker. Enqueueing is best-effort; losing
// a push never affects session state, since the sweeper reclaims calls the
// receiver never saw.
type QueueNotifier struct {
	rdb   *redis.Client
	key   string
	clock func() time.Time
}

func NewQueueNotifier(rdb *redis.Client, key string) (*QueueNotifier, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("queue key is required")
	}
	return &QueueNotifier{rdb: rdb, key: key, clock: time.Now}, nil
}

func (n *QueueNotifier) CallInitiated(ctx context.Context, s calls.Session) error {
	p := pushPayload{
		To:     s.Receiver,
		From:   s.Initiator,
		CallID: s.CallID,
		Kind:   string(s.Kind),
		SentAt: n.clock().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	if err := n.rdb.LPush(ctx, n.key, b).Err(); err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}
	return nil
}

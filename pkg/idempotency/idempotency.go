// Package idempotency de-duplicates broker redeliveries for a single consumer.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/terminalpay-backend/pkg/instance"
	"github.com/angelmondragon/terminalpay-backend/pkg/redis"
)

// Guard claims message ids in Redis for one named consumer. Keys look like
// tp:idempotency:msg:<consumer>:<message_id>; the value records which replica
// claimed the message and when.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

// NewGuard builds a guard. A zero ttl keeps claims until they are forgotten.
func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case strings.TrimSpace(consumer) == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl, now: time.Now}, nil
}

// Claim reports true when this call is the first to see messageID.
func (g *Guard) Claim(ctx context.Context, messageID string) (bool, error) {
	key, err := g.key(messageID)
	if err != nil {
		return false, err
	}
	marker := fmt.Sprintf("%s@%d", instance.ID(), g.now().Unix())
	claimed, err := g.store.SetNX(ctx, key, marker, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Forget drops the claim so the next redelivery is handled again.
func (g *Guard) Forget(ctx context.Context, messageID string) error {
	key, err := g.key(messageID)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	return nil
}

func (g *Guard) key(messageID string) (string, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", errors.New("message id is required")
	}
	return g.store.IdempotencyKey("msg:"+g.consumer, messageID), nil
}

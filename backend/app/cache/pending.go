package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "ledger:pending:"
	defaultTTL = 10 * time.Minute
)

// PendingHint remembers per device whether the ledger is known to hold no PENDING
// commands, letting pulls from idle devices skip the claim transaction. A missing
// key means "unknown" and always falls through to the database.
type PendingHint struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPendingHint(url string) (*PendingHint, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &PendingHint{client: client, ttl: defaultTTL}, nil
}

func (h *PendingHint) Close() error {
	if h == nil || h.client == nil {
		return nil
	}
	return h.client.Close()
}

// MarkPending records that the device has at least one queued command.
func (h *PendingHint) MarkPending(ctx context.Context, deviceID string) error {
	return h.client.Set(ctx, keyPrefix+deviceID, "1", h.ttl).Err()
}

// MarkEmpty records that a claim drained the device's queue.
func (h *PendingHint) MarkEmpty(ctx context.Context, deviceID string) error {
	return h.client.Set(ctx, keyPrefix+deviceID, "0", h.ttl).Err()
}

// KnownEmpty reports true only when the queue was drained and nothing was queued since.
func (h *PendingHint) KnownEmpty(ctx context.Context, deviceID string) (bool, error) {
	v, err := h.client.Get(ctx, keyPrefix+deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "0", nil
}

// Package redis provides the HotStore adapter (spec.md §1's "distributed
// cache / pub-sub" external collaborator) backed by go-redis/v9. It only
// implements the slice of HotStore surface this core needs: short-lived
// typing flags, keyed per pair/session.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/core"
)

// HotStore wraps a redis.Client and satisfies core.HotStore.
type HotStore struct {
	client *redis.Client
}

// New connects to addr and pings it.
func New(ctx context.Context, addr string) (*HotStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &HotStore{client: client}, nil
}

// NewWithClient wraps an already-constructed client, used by tests to
// point at an in-process miniredis server instead of a live Redis.
func NewWithClient(client *redis.Client) *HotStore {
	return &HotStore{client: client}
}

// Close releases the underlying connection pool.
func (h *HotStore) Close() error {
	return h.client.Close()
}

func typingKey(pairID, sessionID string) string {
	return fmt.Sprintf("typing:%s:%s", pairID, sessionID)
}

// SetTyping marks sessionID as typing in pairID's room for ttl (spec.md
// §4.7: "short-lived flag (TTL ≈10s)").
func (h *HotStore) SetTyping(ctx context.Context, pairID, sessionID string, ttl time.Duration) error {
	if err := h.client.Set(ctx, typingKey(pairID, sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set typing flag: %w", err)
	}
	return nil
}

// ClearTyping removes the typing flag immediately.
func (h *HotStore) ClearTyping(ctx context.Context, pairID, sessionID string) error {
	if err := h.client.Del(ctx, typingKey(pairID, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear typing flag: %w", err)
	}
	return nil
}

// IsTyping reports whether sessionID's typing flag is currently set.
func (h *HotStore) IsTyping(ctx context.Context, pairID, sessionID string) (bool, error) {
	n, err := h.client.Exists(ctx, typingKey(pairID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check typing flag: %w", err)
	}
	return n > 0, nil
}

var _ core.HotStore = (*HotStore)(nil)

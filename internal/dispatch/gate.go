package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultUnlockTTL = 60 * time.Second

// Gate is the operator confirmation lock in front of batch creation.
// An unlock expires on its own after its TTL.
type Gate interface {
	Unlock(ctx context.Context, accountID string, ttl time.Duration) error
	Lock(ctx context.Context, accountID string) error
	IsUnlocked(ctx context.Context, accountID string) (bool, error)
}

// RedisGate keeps unlocks as expiring redis keys so every API replica agrees
type RedisGate struct {
	client *redis.Client
	prefix string
}

// NewRedisGate creates a gate storing keys under prefix
func NewRedisGate(client *redis.Client, prefix string) *RedisGate {
	if prefix == "" {
		prefix = "dm:unlock:"
	}
	return &RedisGate{client: client, prefix: prefix}
}

func (g *RedisGate) key(accountID string) string {
	return g.prefix + accountID
}

func (g *RedisGate) Unlock(ctx context.Context, accountID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultUnlockTTL
	}
	if err := g.client.Set(ctx, g.key(accountID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to unlock sending: %w", err)
	}
	return nil
}

func (g *RedisGate) Lock(ctx context.Context, accountID string) error {
	if err := g.client.Del(ctx, g.key(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to lock sending: %w", err)
	}
	return nil
}

func (g *RedisGate) IsUnlocked(ctx context.Context, accountID string) (bool, error) {
	n, err := g.client.Exists(ctx, g.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read send gate: %w", err)
	}
	return n > 0, nil
}

// MemoryGate is a single-process Gate
type MemoryGate struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryGate creates an in-process gate
func NewMemoryGate(now func() time.Time) *MemoryGate {
	if now == nil {
		now = time.Now
	}
	return &MemoryGate{until: make(map[string]time.Time), now: now}
}

func (g *MemoryGate) Unlock(_ context.Context, accountID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultUnlockTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until[accountID] = g.now().Add(ttl)
	return nil
}

func (g *MemoryGate) Lock(_ context.Context, accountID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.until, accountID)
	return nil
}

func (g *MemoryGate) IsUnlocked(_ context.Context, accountID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.until[accountID]
	if !ok {
		return false, nil
	}
	if !g.now().Before(until) {
		delete(g.until, accountID)
		return false, nil
	}
	return true, nil
}

// Package idempotency remembers client-supplied request keys so a retried
// order submission is not placed twice.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Guard interface {
	// Claim reports false when key is already held.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops the claim so the key can be used again.
	Release(ctx context.Context, key string) error
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisGuard struct {
	client redisClient
	ttl    time.Duration
	prefix string
	logger *logrus.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisGuard {
	return newRedisGuard(client, ttl, logger)
}

func newRedisGuard(client redisClient, ttl time.Duration, logger *logrus.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		ttl:    ttl,
		prefix: "idempotency:orders:",
		logger: logger,
	}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if !ok {
		g.logger.WithField("idempotency_key", key).Info("Duplicate idempotency key")
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryGuard keeps claims in process memory. It serves single-instance
// deployments and tests.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		keys: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, expires := range g.keys {
		if !now.Before(expires) {
			delete(g.keys, k)
		}
	}
	if _, held := g.keys[key]; held {
		return false, nil
	}
	g.keys[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.keys, key)
	g.mu.Unlock()
	return nil
}

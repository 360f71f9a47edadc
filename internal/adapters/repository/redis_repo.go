// Package repository implements data persistence adapters
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"evolution-relay/internal/core/ports"
)

// Ensure RedisIdempotencyIndex implements IdempotencyIndex
var _ ports.IdempotencyIndex = (*RedisIdempotencyIndex)(nil)

// DefaultIdempotencyTTL bounds how long a key stays claimed in Redis
const DefaultIdempotencyTTL = 24 * time.Hour

// RedisIdempotencyIndex claims idempotency keys with SETNX.
// Keys expire after ttl, after which a redelivery is processed again and the
// messages unique constraint takes over deduplication.
type RedisIdempotencyIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyIndex creates a new Redis-backed index
func NewRedisIdempotencyIndex(client *redis.Client, ttl time.Duration) *RedisIdempotencyIndex {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyIndex{
		client: client,
		ttl:    ttl,
	}
}

// Claim registers eventID as primary for key unless another event got there first
func (r *RedisIdempotencyIndex) Claim(ctx context.Context, key, eventID string) (string, bool, error) {
	redisKey := buildIdempotencyKey(key)

	ok, err := r.client.SetNX(ctx, redisKey, eventID, r.ttl).Result()
	if err != nil {
		slog.Error("Failed to claim idempotency key",
			"error", err,
			"key", redisKey,
		)
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return eventID, true, nil
	}

	primaryID, err := r.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET: try once more
		ok, err = r.client.SetNX(ctx, redisKey, eventID, r.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return eventID, true, nil
		}
		primaryID, err = r.client.Get(ctx, redisKey).Result()
	}
	if err != nil {
		return "", false, fmt.Errorf("get primary event: %w", err)
	}

	slog.Debug("Idempotency key already claimed",
		"key", redisKey,
		"primary_event_id", primaryID,
	)
	return primaryID, primaryID == eventID, nil
}

// buildIdempotencyKey constructs the Redis key. Format: idem:{key}
func buildIdempotencyKey(key string) string {
	return "idem:" + key
}

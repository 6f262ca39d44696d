package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sheiva:processed:"

// RedisClient is the subset of *redis.Client the Redis store needs.
type RedisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Redis expires entries itself, so Cleanup does nothing.
type Redis struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedis(client RedisClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// NewRedisAddr connects to addr and pings it.
func NewRedisAddr(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, messageID, messageType string) error {
	return r.client.SetNX(ctx, keyPrefix+messageID, messageType, r.ttl).Err()
}

func (r *Redis) Cleanup(ctx context.Context, olderThan time.Duration) error {
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

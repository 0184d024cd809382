package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"zenq"
)

// client implements zenq.Storage using Redis. Persisted query payloads are
// written as-is; the core engine owns the envelope format.
type client struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// Ensure client implements zenq.Storage.
var _ zenq.Storage = (*client)(nil)

// Options holds configuration for the Redis storage backend.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL applied to every persisted entry. Zero means no expiration; the
	// engine still enforces cacheTime on hydration.
	TTL time.Duration
}

// NewClient creates a Redis-backed Storage. The returned cleanup function
// closes the underlying connection.
func NewClient(opts Options) (zenq.Storage, func(), error) {
	redisOpts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	rdb := redis.NewClient(redisOpts)

	// Ping Redis to check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Println("Redis storage backend initialized successfully.")
	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	return &client{redisClient: rdb, ttl: opts.TTL}, cleanup, nil
}

// Read retrieves a persisted payload from Redis.
func (c *client) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := c.redisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, zenq.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	return val, nil
}

// Write stores a persisted payload in Redis.
func (c *client) Write(ctx context.Context, key string, value []byte) error {
	if err := c.redisClient.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes a persisted payload from Redis.
func (c *client) Delete(ctx context.Context, key string) error {
	err := c.redisClient.Del(ctx, key).Err()
	if err != nil && err != redis.Nil { // Don't error if key didn't exist
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

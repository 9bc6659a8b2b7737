package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"liqwatch/market"
)

// RedisClient wraps redis.Client
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(host, port, password string) *RedisClient {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Failed to connect to Redis at %s: %v", addr, err)
		return nil
	}

	log.Printf("✅ Connected to Redis at %s", addr)
	return &RedisClient{client: client}
}

// Set stores a value in Redis with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, jsonBytes, expiration).Err()
}

// Get retrieves a value from Redis
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a key from Redis
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Publish sends a message to a channel
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	jsonBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, channel, jsonBytes).Err()
}

// Subscribe subscribes to a channel
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if r.client == nil {
		return nil
	}
	return r.client.Subscribe(ctx, channel)
}

// contextSnapshotKey is the only cache namespace this pipeline actually
// exercises: a cross-instance, cross-restart lookaside for the context
// poller's latest per-symbol reading (spec §6).
func contextSnapshotKey(symbol string) string {
	return "context:latest:" + symbol
}

// SetContextSnapshot caches symbol's latest polled OI/funding reading, typed
// so the poller never hand-rolls the key string.
func (r *RedisClient) SetContextSnapshot(ctx context.Context, symbol string, snap market.ContextSnapshot, ttl time.Duration) error {
	return r.Set(ctx, contextSnapshotKey(symbol), snap, ttl)
}

// GetContextSnapshot reads back a cached snapshot. ok is false both when the
// client is degraded and when the key is simply absent (cache miss), so
// callers can treat both the same way: fall through to a live poll.
func (r *RedisClient) GetContextSnapshot(ctx context.Context, symbol string) (market.ContextSnapshot, bool, error) {
	if r.client == nil {
		return market.ContextSnapshot{}, false, nil
	}
	var snap market.ContextSnapshot
	if err := r.Get(ctx, contextSnapshotKey(symbol), &snap); err != nil {
		if errors.Is(err, redis.Nil) {
			return market.ContextSnapshot{}, false, nil
		}
		return market.ContextSnapshot{}, false, err
	}
	return snap, true, nil
}

// Package cache provides a Redis client wrapper for Strategos. It mirrors
// period budget spend with atomic increments so counters survive restarts
// and are shared across replicas, and backs fixed-window rate limiting.
package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with Strategos-specific operations.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new Redis cache client connected to the given address.
// The addr should be in "host:port" format.
func NewCache(ctx context.Context, addr, password string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}

	log.Printf("cache: connected to Redis at %s", addr)
	return &Cache{client: client}, nil
}

// Close gracefully shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		log.Println("cache: closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// spendKey constructs the Redis key for a period spend counter.
// Format: "budget:spend:{period}:{periodKey}", e.g. "budget:spend:daily:2026-10-18".
func spendKey(period, periodKey string) string {
	return fmt.Sprintf("budget:spend:%s:%s", period, periodKey)
}

// GetPeriodSpend returns the mirrored spend for a budget period.
// Returns 0 if nothing has been recorded for the period yet.
func (c *Cache) GetPeriodSpend(ctx context.Context, period, periodKey string) (float64, error) {
	key := spendKey(period, periodKey)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: get period spend %q: %w", key, err)
	}

	spend, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: parse period spend %q=%q: %w", key, val, err)
	}
	return spend, nil
}

// incrWithExpireLua atomically increments a key and sets TTL if the key has no expiry.
var incrWithExpireLua = redis.NewScript(`
	local newval = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return newval
`)

// IncrPeriodSpend atomically increments a period spend counter. The TTL is
// set once, when the counter is created, so the key outlives its period
// and then disappears on its own.
func (c *Cache) IncrPeriodSpend(ctx context.Context, period, periodKey string, amount float64, ttl time.Duration) (float64, error) {
	key := spendKey(period, periodKey)
	ttlSeconds := int(ttl / time.Second)

	result, err := incrWithExpireLua.Run(ctx, c.client, []string{key},
		strconv.FormatFloat(amount, 'f', 10, 64), ttlSeconds).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: incr period spend %q: %w", key, err)
	}

	// INCRBYFLOAT replies with a bulk string.
	switch v := result.(type) {
	case string:
		newVal, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("cache: parse incr result %q: %w", v, parseErr)
		}
		return newVal, nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cache: unexpected result type from Lua script")
	}
}

// rateLimitLua atomically increments the counter and sets TTL only on the first
// request in the window. This prevents the TTL from being extended by subsequent
// requests, which would cause callers to be blocked longer than the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for a given key.
// It returns true if the request is allowed (under limit), false if rate-limited.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)
	windowSeconds := int(window / time.Second)

	result, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitKey}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}

	return result <= maxRequests, nil
}

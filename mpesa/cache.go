package mpesa

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores the Daraja bearer token for its validity window so that
// every STK push does not pay for a token exchange. Misses are cheap; the
// client just re-authenticates.
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, ttl time.Duration)
}

// MemoryCache is the single-process fallback used when Redis is not
// configured, and in tests.
type MemoryCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(_ context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *MemoryCache) Set(_ context.Context, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = time.Now().Add(ttl)
}

const redisTokenKey = "mpesa:access_token"

// RedisCache shares one token across horizontally scaled processes. Redis
// failures degrade to a cache miss rather than failing the payment.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context) (string, bool) {
	token, err := c.client.Get(ctx, redisTokenKey).Result()
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

func (c *RedisCache) Set(ctx context.Context, token string, ttl time.Duration) {
	_ = c.client.Set(ctx, redisTokenKey, token, ttl).Err()
}

package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache memoizes search and fetch outputs in Redis so repeated steps
// across retrieval cycles and sub-queries do not re-hit the network. Cache
// failures are soft: a miss is returned and execution proceeds.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache wraps the Redis client. A nil client disables caching.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

// Key derives a stable cache key from the tool name and its config.
func (c *ResultCache) Key(toolName string, config map[string]any) string {
	payload, err := json.Marshal(config)
	if err != nil {
		payload = []byte(toolName)
	}
	sum := sha256.Sum256(append([]byte(toolName+":"), payload...))
	return "seeker:tool:" + hex.EncodeToString(sum[:])
}

// Get loads a cached value into dst. Returns false on miss or error.
func (c *ResultCache) Get(ctx context.Context, key string, dst any) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		slog.Warn("tool cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("tool cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores the value best-effort.
func (c *ResultCache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("tool cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("tool cache write failed", "key", key, "error", err)
	}
}

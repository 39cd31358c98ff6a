package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// kbKeyPrefix namespaces knowledge-base entries in Redis.
const kbKeyPrefix = "seeker:kb:"

// KBLookup reads pre-loaded knowledge-base entries from Redis. Output is the
// stored value: decoded JSON when the entry is JSON, plain text otherwise.
type KBLookup struct {
	client *redis.Client
}

// NewKBLookup creates the knowledge-base executor.
func NewKBLookup(client *redis.Client) *KBLookup {
	return &KBLookup{client: client}
}

// Execute looks up the configured key.
func (k *KBLookup) Execute(ctx context.Context, step *models.Step) (*Result, error) {
	key, _ := step.Config["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("kb_lookup requires a non-empty key")
	}
	if k.client == nil {
		return nil, fmt.Errorf("kb_lookup is not configured (no redis)")
	}

	raw, err := k.client.Get(ctx, kbKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("kb_lookup: no entry for key %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("kb_lookup read failed: %w", err)
	}

	var structured any
	if json.Unmarshal(raw, &structured) == nil {
		return &Result{Output: structured, Metadata: map[string]any{"key": key}}, nil
	}
	return &Result{Output: string(raw), Metadata: map[string]any{"key": key}}, nil
}

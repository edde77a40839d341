// Package cache provides response caching for the gateway.
//
// Two backends are available:
//   - MemoryCache — in-process TTL cache with bounded capacity, the
//     default for single-instance deployments.
//   - RedisCache  — Redis-backed, for multi-replica deployments sharing
//     one cache.
//
// Both implement the Cache interface so they are fully interchangeable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nulpointcorp/llmops/internal/providers"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key derives the cache key for a completion request: the SHA-256 hex of
// the canonical JSON (keys sorted at every level) of the fields that
// determine the response. Two requests that differ in any of these fields
// never share a key.
func Key(messages []providers.Message, schema map[string]any, maxTokens int, provider, model, promptVersion string) string {
	canonical := map[string]any{
		"messages":            messages,
		"schema":              schema,
		"max_tokens":          maxTokens,
		"provider":            provider,
		"model":               model,
		"prompt_version_used": promptVersion,
	}
	// json.Marshal sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(canonical)
	if err != nil {
		// Messages and schema values are plain JSON types; Marshal cannot
		// fail for them. Hash the error string rather than panic.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package cache provides the namespaced TTL cache backing every external
// call in the pipeline: LLM extraction, NLI verification, judgments, and
// per-adapter API responses.
//
// The cache is best-effort by contract: a backend failure is logged and
// surfaces to callers exactly like a miss. Consumers must never fail a
// request because the cache is down.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespaces used by pipeline stages. Adapters use their own api_name.
const (
	NamespaceClaimExtraction    = "claim_extraction"
	NamespaceEvidenceExtraction = "evidence_extraction"
	NamespaceNLIVerification    = "nli_verification"
	NamespaceJudgment           = "judgment"
	NamespacePipelineResult     = "pipeline_result"
)

// Cache is a namespaced key/value store with per-entry TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached bytes and true on a hit. Backend errors are
	// indistinguishable from a miss.
	Get(ctx context.Context, namespace, key string) ([]byte, bool)

	// Set stores value under (namespace, key) with the given TTL.
	// Best-effort: errors are logged, never returned.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration)

	// Close releases the backend connection.
	Close() error
}

// Key builds a deterministic cache key: the MD5 hex digest of the canonical
// JSON encoding of parts. Every consumer derives its key from the
// significant inputs of the call it caches.
func Key(parts ...any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		// json.Marshal only fails on unsupported types; callers pass
		// strings and numbers. Fall back to an empty-input digest.
		b = []byte("[]")
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// GetJSON reads and unmarshals a cached value into out. Returns false on
// miss or decode failure (a corrupt entry behaves like a miss).
func GetJSON(ctx context.Context, c Cache, namespace, key string, out any) bool {
	raw, ok := c.Get(ctx, namespace, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// SetJSON marshals value and stores it. Best-effort.
func SetJSON(ctx context.Context, c Cache, namespace, key string, value any, ttl time.Duration) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.Set(ctx, namespace, key, b, ttl)
}

// Redis implements Cache on a Redis backend shared across workers.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies reachability.
func NewRedis(ctx context.Context, redisURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, logger: logger}, nil
}

func redisKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the cached bytes for (namespace, key).
func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache: get failed", "namespace", namespace, "error", err)
		}
		return nil, false
	}
	return raw, true
}

// Set stores value with a TTL. Errors are logged and swallowed.
func (r *Redis) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, redisKey(namespace, key), value, ttl).Err(); err != nil {
		r.logger.Warn("cache: set failed", "namespace", namespace, "error", err)
	}
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop is the cache used when REDIS_URL is not configured: every Get is a
// miss and every Set is discarded.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string, string) ([]byte, bool) { return nil, false }

// Set discards the value.
func (Noop) Set(context.Context, string, string, []byte, time.Duration) {}

// Close is a no-op.
func (Noop) Close() error { return nil }

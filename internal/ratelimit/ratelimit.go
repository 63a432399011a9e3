// Package ratelimit paces outbound requests to external evidence providers.
//
// Most source APIs run on free or low-volume tiers that throttle
// aggressively. Each provider gets an independent token bucket keyed by its
// name; adapters without native pacing call Wait before every request.
package ratelimit

import "context"

// Limiter decides whether an outbound request identified by key may proceed.
// Keys are opaque; callers use the provider name. Implementations must be
// safe for concurrent use.
type Limiter interface {
	// Allow consumes one token if available. A limiter malfunction returns
	// an error; callers treat errors as fail-open rather than blocking
	// outbound traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Wait blocks until a token is available or ctx is done.
	Wait(ctx context.Context, key string) error

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when pacing is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Wait(context.Context, string) error { return nil }

func (NoopLimiter) Close() error { return nil }

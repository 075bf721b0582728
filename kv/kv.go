// Package kv wraps the external key-value store used for job registries,
// the last-used LRU index, accounting counters, and pub/sub completion
// signals (spec.md §4.A).
package kv

import (
	"context"
	"time"
)

// ScoredMember is a single entry of a sorted set, as returned by ZRange-style
// calls that need both the member and its score (e.g. picking the oldest
// videoID off `last-used`).
type ScoredMember struct {
	Member string
	Score  float64
}

// Client is the capability set every caller in this module needs: strings,
// sorted sets, counters, and pub/sub. Implementations must treat connection
// loss as a transient error so that Retry (below) can paper over it.
type Client interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string, by int64) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRank(ctx context.Context, key string, member string) (int64, bool, error)
	// ZRange returns members in ascending-score order over [start, stop],
	// following Redis's inclusive, possibly-negative indexing.
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error)

	Publish(ctx context.Context, channel, payload string) error
	// Subscribe returns a Subscription that must be closed by the caller.
	Subscribe(ctx context.Context, channel string) Subscription

	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a live pub/sub subscription to a single channel.
type Subscription interface {
	// WaitForMessage blocks until a message arrives or timeout elapses.
	// ok is false on timeout; err is non-nil only on a genuine transport
	// failure.
	WaitForMessage(ctx context.Context, timeout time.Duration) (payload string, ok bool, err error)
	Close() error
}

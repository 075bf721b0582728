package kv

import (
	"context"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/cenkalti/backoff/v4"
)

// retryBackoff builds the bounded exponential backoff spec.md §4.A requires
// of sensitive KV operations: 5 attempts, base 0.1s, factor 3.
func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.KVRetryBase
	b.Multiplier = config.KVRetryFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, config.KVRetryAttempts-1)
}

// Retry runs op with the bounded exponential backoff policy, for callers
// reading the oldest video, publishing completion, or updating the
// last-used index, per spec.md §4.A.
func Retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, retryBackoff())
}

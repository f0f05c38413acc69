// Package backoff wraps avast/retry-go with the exponential-backoff-with-
// jitter policy spec.md §4.5 calls for, grounded in the teacher's own use
// of retry.Do/retry.DelayType in monitor.go and example/retry/main.go.
// It is the Store Client Adapter's opt-in retry path: callers that want
// a single attempt skip this package entirely and call the store
// directly.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	// Base is the first retry's delay before jitter.
	Base = 50 * time.Millisecond
	// Cap bounds the exponential growth of the delay.
	Cap = 10 * time.Second
	// MaxJitter is the upper bound of the random jitter added to every
	// delay.
	MaxJitter = 100 * time.Millisecond
)

// Do retries fn with exponential backoff and jitter until it succeeds or
// ctx is done. There is no attempt limit; cancellation is the only way
// to give up, matching spec.md §4.5's "retried indefinitely until
// success or explicit cancellation".
func Do(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(0), // unlimited; ctx cancellation is the only exit
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return delay(n)
		}),
	)
}

func delay(attempt uint) time.Duration {
	d := Base << attempt
	if d <= 0 || d > Cap {
		d = Cap
	}
	jitter := time.Duration(rand.Int63n(int64(MaxJitter)))
	return d + jitter
}

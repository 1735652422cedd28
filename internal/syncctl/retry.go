package syncctl

import (
	"context"
	"time"

	"github.com/rupertsworld/stash/internal/stasherr"
)

// retryBackoffs is the exponential backoff schedule: 1s, 2s, 4s, capped
// at 30s (§7 "Retry policy for sync"). Up to 3 attempts total, so at most
// 2 sleeps occur between them.
var retryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const maxRetryBackoff = 30 * time.Second
const maxAttempts = 3

// withRetry runs fn up to maxAttempts times, sleeping the backoff schedule
// between attempts, but only retries stasherr.SyncError{Retryable: true}
// failures, anything else (including non-sync errors) returns on the
// first attempt (§7).
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !stasherr.IsRetryableSync(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts-1 {
			break
		}

		wait := retryBackoffs[attempt]
		if wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}

package syncctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rupertsworld/stash/internal/stasherr"
)

func TestWithRetrySucceedsFirstTryWithoutSleeping(t *testing.T) {
	calls := 0

	start := time.Now()
	err := withRetry(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWithRetryDoesNotRetryNonSyncErrors(t *testing.T) {
	calls := 0
	plain := errors.New("boom")

	err := withRetry(context.Background(), func() error {
		calls++
		return plain
	})

	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 1, calls)
}

func TestWithRetryDoesNotRetryNonRetryableSyncErrors(t *testing.T) {
	calls := 0

	err := withRetry(context.Background(), func() error {
		calls++
		return stasherr.NewSync("test", false, errors.New("permanent"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0

	err := withRetry(context.Background(), func() error {
		calls++
		return stasherr.NewSync("test", true, errors.New("transient"))
	})

	assert.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, func() error {
		calls++
		return stasherr.NewSync("test", true, errors.New("transient"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation is observed during the first backoff sleep")
}

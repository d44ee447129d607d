package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gxo-labs/statesync/internal/logger"
	"github.com/gxo-labs/statesync/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelper_SucceedsAfterFailures(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	calls := 0
	err := h.Do(context.Background(), retry.Config{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHelper_ReturnsLastError(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	sentinel := errors.New("still failing")
	calls := 0
	err := h.Do(context.Background(), retry.Config{Attempts: 2, BackoffFactor: 2}, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestHelper_ZeroAttemptsRunsOnce(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	calls := 0
	_ = h.Do(context.Background(), retry.Config{}, func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestHelper_StopsOnNonRetryableError(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	permanent := errors.New("permanent")
	calls := 0
	err := h.Do(context.Background(), retry.Config{
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestHelper_CancelledDuringDelay(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	sentinel := errors.New("down")

	err := h.Do(ctx, retry.Config{Attempts: 3, Delay: time.Hour, Jitter: 0.5}, func(ctx context.Context) error {
		cancel()
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestHelper_CancelledBeforeStart(t *testing.T) {
	h := retry.NewHelper(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Do(ctx, retry.Config{Attempts: 3}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

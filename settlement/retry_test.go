package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/interledgermesh/connector/settlement"
)

func testRetryConfig() settlement.RetryConfig {
	return settlement.RetryConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent failure")
	invocations := 0
	err := settlement.RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		invocations++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, invocations)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	invocations := 0
	err := settlement.RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		invocations++
		return settlement.Retryable(errors.New("transient failure"))
	})
	require.Error(t, err)
	require.Equal(t, 3, invocations)
}

func TestRetrySucceedsAfterRetryableFailures(t *testing.T) {
	t.Parallel()

	invocations := 0
	err := settlement.RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		invocations++
		if invocations < 3 {
			return settlement.Retryable(errors.New("transient failure"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, invocations)
}

func TestRetryStopsWhenContextClosed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invocations := 0
	err := settlement.RetryWithBackoff(ctx, testRetryConfig(), func() error {
		invocations++
		return settlement.Retryable(errors.New("transient failure"))
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, invocations)
}

func TestExecuteWithTimeoutMarksTimeoutRetryable(t *testing.T) {
	t.Parallel()

	err := settlement.ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	require.True(t, settlement.IsRetryable(err))
}

func TestExecuteWithTimeoutPassesErrorsThrough(t *testing.T) {
	t.Parallel()

	opErr := errors.New("op failed")
	err := settlement.ExecuteWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return opErr
	})
	require.ErrorIs(t, err, opErr)
	require.False(t, settlement.IsRetryable(err))
}

package settlement

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryConfig is the exponential backoff config used for on-ledger
// settlement operations.
type RetryConfig struct {
	// BaseDelay is the delay after the first failed attempt; attempt n waits
	// BaseDelay*2^n capped at MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// MaxAttempts is the total number of invocations, not re-invocations.
	MaxAttempts int
}

// DefaultRetryConfig returns the default RetryConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string {
	return e.err.Error()
}

func (e retryableError) Unwrap() error {
	return e.err
}

// Retryable marks the error as safe to retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether the error is marked retryable.
func IsRetryable(err error) bool {
	var target retryableError
	return errors.As(err, &target)
}

// RetryWithBackoff invokes op until it succeeds, fails with a non-retryable
// error, or MaxAttempts invocations are spent. The last error is returned.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, op func() error) error {
	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			if delay > cfg.MaxDelay || delay <= 0 {
				delay = cfg.MaxDelay
			}
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry interrupted")
			case <-time.After(delay):
			}
		}

		err = op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", cfg.MaxAttempts)
}

// ExecuteWithTimeout runs op bounded by timeout. A timeout produces a
// retryable error; op's own error passes through unchanged.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "operation interrupted")
		}
		return Retryable(errors.Errorf("operation timed out after %s", timeout))
	}
}

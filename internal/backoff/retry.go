package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// AlwaysRetry is a shouldRetry predicate that retries on every error.
func AlwaysRetry(error) bool { return true }

// Execute runs fn with exponential backoff, retrying while
// attempt < policy.MaxRetries and shouldRetry(err) is true (spec §4.3).
// Context cancellation is never retried: it is checked before every attempt
// and returned immediately rather than counted against shouldRetry.
func Execute[T any](
	ctx context.Context,
	policy Policy,
	shouldRetry func(error) bool,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	if shouldRetry == nil {
		shouldRetry = AlwaysRetry
	}
	maxAttempts := policy.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result RetryResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		if !shouldRetry(err) {
			return result, err
		}

		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// RetryWithBackoff executes the provided function with exponential backoff
// retry logic, retrying on every error up to maxAttempts times. Kept as a
// thin wrapper over Execute for callers with no retry predicate.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	if maxAttempts <= 0 {
		return RetryResult[T]{}, ErrMaxAttemptsExhausted
	}
	policy.MaxRetries = maxAttempts
	return Execute(ctx, policy, AlwaysRetry, fn)
}

// RetryFunc is a convenience wrapper for RetryWithBackoff that uses the default policy.
func RetryFunc[T any](
	ctx context.Context,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (T, error) {
	result, err := RetryWithBackoff(ctx, DefaultPolicy(), maxAttempts, fn)
	return result.Value, err
}

// RetrySimple is a convenience wrapper for simple retry cases without return values.
func RetrySimple(
	ctx context.Context,
	maxAttempts int,
	fn func() error,
) error {
	_, err := RetryWithBackoff(ctx, DefaultPolicy(), maxAttempts, func(_ int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

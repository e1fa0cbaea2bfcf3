// Package backoff provides retry helpers over cenkalti/backoff policies.
package backoff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sqlblob/sqlblob/src/internal/errors"
)

// BackOff determines how long to wait between retries.  Stop ends retrying.
type BackOff = backoff.BackOff

// Stop indicates that no more retries should be made.
const Stop = backoff.Stop

// Notify is called with the error and the wait duration after each failed
// attempt.  Returning a non-nil error aborts retrying.
type Notify func(err error, wait time.Duration) error

// NewExponentialBackOff returns an exponential BackOff with no elapsed-time
// limit; pair it with a context for cancellation.
func NewExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}

// NewConstantBackOff waits d between every retry, forever.
func NewConstantBackOff(d time.Duration) *backoff.ConstantBackOff {
	return backoff.NewConstantBackOff(d)
}

// WithMaxRetries stops b after max retries.
func WithMaxRetries(b BackOff, max uint64) BackOff {
	return backoff.WithMaxRetries(b, max)
}

// NewTestingBackOff returns a BackOff suitable for tests: short waits, few
// attempts.
func NewTestingBackOff() BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// Retry calls operation until it succeeds or b says to stop.
func Retry(operation func() error, b BackOff) error {
	return RetryNotify(operation, b, nil)
}

// RetryNotify calls operation until it succeeds or b says to stop, calling
// notify after each failure.
func RetryNotify(operation func() error, b BackOff, notify Notify) error {
	return RetryUntilCancel(context.Background(), operation, b, notify)
}

// RetryUntilCancel is RetryNotify, additionally stopping when ctx is
// cancelled.  The last attempt's error is returned, or the context's error
// if cancellation came first.
func RetryUntilCancel(ctx context.Context, operation func() error, b BackOff, notify Notify) error {
	b.Reset()
	for {
		err := operation()
		if err == nil {
			return nil
		}
		wait := b.NextBackOff()
		if wait == Stop {
			return err
		}
		if notify != nil {
			if nerr := notify(err, wait); nerr != nil {
				return nerr
			}
		}
		select {
		case <-ctx.Done():
			return errors.EnsureStack(context.Cause(ctx))
		case <-time.After(wait):
		}
	}
}

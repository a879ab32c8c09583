// Package retry provides the bounded exponential-backoff executor used to
// absorb the gateway's internal consistency lag, most notably an invoice
// whose payment confirmation object has not materialized yet.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy is a fixed attempt budget with exponential backoff between
// attempts. The zero value is not usable; construct with Default or set both
// fields.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts uint64
	// Base is the delay before the second attempt; it doubles each attempt.
	Base time.Duration
}

// Default is the policy used against the gateway: five attempts, first
// backoff 500ms.
func Default() Policy {
	return Policy{Attempts: 5, Base: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. On exhaustion the last error is returned
// wrapped; callers must treat it as terminal.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Attempts == 0 {
		return fmt.Errorf("retry: zero attempt budget")
	}
	var attempts uint64
	backoff := retry.WithMaxRetries(p.Attempts-1, retry.NewExponential(p.Base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	})
	if err != nil && attempts >= p.Attempts {
		return fmt.Errorf("retry budget exhausted after %d attempts: %w", attempts, err)
	}
	return err
}

// Retryable marks an error as transient so Do schedules another attempt.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// Package retry provides bounded retries with exponential backoff and full
// jitter for recoverable errors, used around model provider calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

type options struct {
	maxRetries  int
	baseWait    time.Duration
	maxWait     time.Duration
	backoffRate float64
	jitter      bool
}

// Option configures a retry loop.
type Option func(*options)

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) { o.baseWait = d }
}

// WithMaxWait caps the wait between retries.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithBackoffRate sets the multiplier applied to the wait between retries.
func WithBackoffRate(rate float64) Option {
	return func(o *options) { o.backoffRate = rate }
}

// WithJitter enables or disables full jitter on the computed wait.
func WithJitter(enabled bool) Option {
	return func(o *options) { o.jitter = enabled }
}

// Do runs fn, retrying recoverable errors up to the configured bound. The
// initial attempt always runs, so max retries of zero means one attempt.
// Non-recoverable errors and context cancellation stop the loop immediately;
// the last error seen is returned when attempts are exhausted.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		maxRetries:  3,
		baseWait:    time.Second,
		maxWait:     30 * time.Second,
		backoffRate: 2.0,
		jitter:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			wait := o.waitFor(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRecoverable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// waitFor computes the backoff delay before the given retry attempt.
func (o options) waitFor(attempt int) time.Duration {
	wait := float64(o.baseWait) * math.Pow(o.backoffRate, float64(attempt-1))
	if capped := float64(o.maxWait); wait > capped {
		wait = capped
	}
	if o.jitter {
		wait = rand.Float64() * wait
	}
	return time.Duration(wait)
}

// Package retry polls an operation at a fixed interval until it reports
// completion or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without completing.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a poll loop. The interval is fixed, not exponential.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPolicy is the transfer state poll used before relaying a
// fulfillment: five attempts one second apart.
var DefaultPolicy = Policy{MaxAttempts: 5, Interval: time.Second}

// Poll calls fn until it reports done, returns an error, or the policy's
// attempts are used up. The last value fn returned is always passed back.
// Cancellation of ctx is observed between attempts.
func Poll[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, bool, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last T
	for attempt := 1; ; attempt++ {
		v, done, err := fn(ctx, attempt)
		last = v
		if err != nil || done {
			return last, err
		}
		if attempt >= attempts {
			return last, ErrExhausted
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

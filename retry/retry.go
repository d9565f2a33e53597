// Package retry runs an operation with a fixed delay between attempts, retrying
// only the errors a classifier accepts.
package retry

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	"time"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Attempt describes one failed try. NextAt is zero when no further attempt
// will be made.
type Attempt struct {
	Number int
	Err    error
	NextAt time.Time
}

func (a Attempt) Final() bool {
	return a.NextAt.IsZero()
}

type Options struct {
	// Retryable decides whether a failure is worth another attempt.
	Retryable func(error) bool
	// OnFailure is called after every failed attempt, the last one included.
	// A non-nil return ends the loop with that error.
	OnFailure func(Attempt) error
}

// Do returns the first successful result, or the error of the last attempt.
// A non-retryable error ends the loop immediately. Cancelling ctx aborts the
// wait between attempts.
func Do[T any](ctx context.Context, p Policy, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}

		retryable := opts.Retryable == nil || opts.Retryable(err)
		failure := Attempt{Number: attempt, Err: err}
		if retryable && attempt < maxAttempts {
			failure.NextAt = time.Now().Add(p.Delay)
		}
		if opts.OnFailure != nil {
			if ferr := opts.OnFailure(failure); ferr != nil {
				return res, backoff.Permanent(ferr)
			}
		}
		if !retryable {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
}

// Package retry runs an operation again while it fails with a transient
// error. Nothing in the write or read layers retries on its own; callers that
// want retries wrap their calls with Do.
//
//	err := retry.Do(ctx, retry.NewExponentialBackoff(), func() error {
//		_, err := users.UpdateUsername(ctx, id, name)
//		return err
//	})
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
)

// Retryer decides how long to wait before the next attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether to retry at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoff implements exponential backoff with jitter on top of
// backoff.ExponentialBackOff.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoff returns a backoff for store calls: five retries
// starting at 100ms.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   5,
		JitterFactor: 0.25,
	}
}

// Startup returns a backoff for waiting on stores at process start.
func Startup() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.5,
		MaxRetries:   30,
		JitterFactor: 0.25,
	}
}

func (r *ExponentialBackoff) policy() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.InitialDelay),
		backoff.WithMaxInterval(r.MaxDelay),
		backoff.WithMultiplier(r.Multiplier),
		backoff.WithRandomizationFactor(r.JitterFactor),
		backoff.WithMaxElapsedTime(0),
	)
}

func (r *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	// The policy is stateful, so replay it up to attempt. This keeps one
	// ExponentialBackoff safe to share between concurrent Do calls.
	b := r.policy()
	for i := 0; i < attempt; i++ {
		b.NextBackOff()
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	return delay, true
}

// FixedDelay waits the same delay between retries.
type FixedDelay struct {
	Delay time.Duration

	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int
}

func (r *FixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Do calls fn until it succeeds, fails with an error that is not transient,
// the retryer gives up, or ctx is done. Predicate rejections are results, not
// errors, so they are never retried.
func Do(ctx context.Context, r Retryer, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !lmserrors.IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return fmt.Errorf("retry failed after %d attempts: %w", attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", err)
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, r, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

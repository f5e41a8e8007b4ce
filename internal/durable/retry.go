package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice2action/internal/services"
)

// RetryPolicy bounds how often a failing activity is attempted.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout limits a single attempt. Zero means no limit.
	Timeout time.Duration
}

// DefaultRetryPolicy is used for activities registered without a policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// backoff returns the wait before attempt n+1 after n failures.
func (p RetryPolicy) backoff(failures int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

type attemptFunc func(ctx context.Context, attempt int) error

type retryObserver func(attempt int, err error, wait time.Duration)

// retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. It returns the number of attempts made.
func retry(ctx context.Context, policy RetryPolicy, fn attemptFunc, observe retryObserver) (int, error) {
	policy = policy.normalized()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := runAttempt(ctx, policy, attempt, fn)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !services.Retryable(err) || attempt == policy.MaxAttempts {
			return attempt, err
		}
		wait := policy.backoff(attempt)
		if observe != nil {
			observe(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return policy.MaxAttempts, lastErr
}

func runAttempt(ctx context.Context, policy RetryPolicy, attempt int, fn attemptFunc) (err error) {
	attemptCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrPermanent, "durable", "activity", fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	err = fn(attemptCtx, attempt)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, "durable", "activity", fmt.Sprintf("attempt exceeded %s", policy.Timeout), err)
	}
	return err
}

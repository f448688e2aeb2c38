package internal

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt, counted from 0.
	Backoff func(attempt int) time.Duration
}

// DefaultPolicy makes 3 attempts, waiting 1s then 2s in between.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: ExponentialBackoff}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func (p Policy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return ExponentialBackoff(attempt)
	}
	return p.Backoff(attempt)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as definitive: Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}

// Retry calls fn until it succeeds, returns a permanent error, or the policy
// runs out of attempts. Returns the last error if all attempts fail.
// Returns ctx.Err() if the context is cancelled while waiting between attempts.
func Retry(ctx context.Context, policy Policy, fn func(attempt int) error) error {
	_, err := RetryResult(ctx, policy, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](ctx context.Context, policy Policy, fn func(attempt int) (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < policy.attempts(); i++ {
		if result, err = fn(i); err == nil || IsPermanent(err) {
			return result, err
		}
		if i < policy.attempts()-1 {
			wait := time.NewTimer(policy.backoff(i))
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
				return result, ctx.Err()
			}
		}
	}
	return result, err
}

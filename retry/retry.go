// Package retry runs upstream attempts under a bounded policy.
//
// Only the opening of a stream is retried. Once content has been forwarded to
// a client a failure is final, so callers wrap exactly the call that produces
// a *provider.Stream.
//
// Decisions per failed attempt:
//   - AuthInvalid and Malformed are returned immediately.
//   - RateLimited waits exactly the advertised retry-after. It counts as an
//     attempt but does not advance the exponential step.
//   - Timeout, ServerUnavailable and Unknown wait BackoffBase * 2^step.
//
// Cancellation of the context aborts a pending wait and never starts a new
// attempt; it is reported as the context error rather than an upstream one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBackoffBase   = 500 * time.Millisecond
	DefaultMaxRetryAfter = time.Minute
)

// Policy bounds the attempts made for one operation.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	// MaxRetryAfter caps how long a rate limit may make us wait. Longer
	// retry-after values are returned to the caller instead.
	MaxRetryAfter time.Duration
	// Sleep waits for d or until ctx ends. Defaults to a timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = DefaultBackoffBase
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = DefaultMaxRetryAfter
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	if p.Logger == nil {
		p.Logger = slogx.Named(nil, "retry")
	}
	return p
}

// Backoff is the wait after a failure at exponential step. It saturates
// instead of overflowing.
func (p Policy) Backoff(step int) time.Duration {
	return backoff(p.withDefaults().BackoffBase, step)
}

func backoff(base time.Duration, step int) time.Duration {
	if step >= 63 || base > math.MaxInt64>>step {
		return time.Duration(math.MaxInt64)
	}
	return base << step
}

// ExhaustedError reports the last classified failure once no further attempt will be made.
type ExhaustedError struct {
	Attempts int
	Last     *provider.Error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Attempts reports how many attempts an error returned by Do took. It is 0 for
// errors Do did not produce.
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 0
}

// Do calls fn until it succeeds, fails permanently or the policy runs out.
// attempt is zero based.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	policy = policy.withDefaults()
	var zero T

	step := 0
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		last := classify(err)
		logger := policy.Logger.With(slogx.Attempt(attempt, policy.MaxAttempts))

		if !last.Kind.Retryable() {
			logger.WarnContext(ctx, "upstream failed permanently", slogx.Error(last))
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: last}
		}
		if attempt+1 >= policy.MaxAttempts {
			logger.WarnContext(ctx, "upstream attempts exhausted", slogx.Error(last))
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: last}
		}

		var wait time.Duration
		if last.Kind == provider.RateLimited {
			wait = last.RetryAfter
			if wait <= 0 {
				wait = provider.DefaultRetryAfter
			}
			if wait > policy.MaxRetryAfter {
				logger.WarnContext(ctx, "retry-after exceeds the allowed wait", slogx.Delay(wait))
				return zero, &ExhaustedError{Attempts: attempt + 1, Last: last}
			}
		} else {
			wait = backoff(policy.BackoffBase, step)
			step++
		}

		logger.InfoContext(ctx, "retrying upstream", slogx.Error(last), slogx.Delay(wait))
		if err := policy.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func classify(err error) *provider.Error {
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return pErr
	}
	return &provider.Error{Kind: provider.Unknown, Err: err}
}

// Sleep blocks for d or until ctx is done, in which case it returns the context error.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// NewRetryMiddleware returns middleware retrying failed completions under the
// given policy. Only retryable errors are retried; a Retry-After hint on rate
// limit errors overrides the computed backoff unless it exceeds MaxDelay.
func NewRetryMiddleware(policy RetryPolicy, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		resp, err := next(ctx, req)
		if err == nil {
			return resp, nil
		}

		for attempt := 0; attempt < policy.MaxRetries; attempt++ {
			if !IsRetryable(err) {
				return nil, err
			}

			delay := policy.Delay(attempt)
			if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
				retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
				if retryDelay > time.Duration(policy.MaxDelay*float64(time.Second)) {
					// Retry-After exceeds the max delay; give up immediately.
					return nil, err
				}
				delay = retryDelay
			}

			if policy.OnRetry != nil {
				policy.OnRetry(err, attempt+1, delay)
			} else {
				logger.Debug("retrying completion", "provider", req.Provider, "attempt", attempt+1, "delay", delay, "error", err)
			}

			select {
			case <-ctx.Done():
				return nil, &AbortError{ClientError: ClientError{Message: "request cancelled during retry", Cause: ctx.Err()}}
			case <-time.After(delay):
			}

			resp, err = next(ctx, req)
			if err == nil {
				return resp, nil
			}
		}

		return nil, err
	}
}

package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// NewRateLimitMiddleware returns middleware that caps outbound request rate
// with a token bucket. qps is the sustained requests-per-second rate; burst is
// the bucket size. Waiting respects context cancellation.
func NewRateLimitMiddleware(qps float64, burst int) Middleware {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(qps), burst)
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &AbortError{ClientError: ClientError{Message: "request cancelled while rate limited", Cause: err}}
		}
		return next(ctx, req)
	}
}

package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"turbo-rpc/dispatch"
)

// ErrRateLimited is returned to the caller when the limiter has no token left.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware creates a token bucket limiter shared by every call it wraps.
func RateLimitMiddleware(r float64, burst int) dispatch.Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, call, params, emit)
		}
	}
}

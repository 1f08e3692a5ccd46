package middleware

import (
	"context"
	"errors"
	"time"

	"turbo-rpc/dispatch"
)

// ErrTimeout is returned to the caller when a unary handler outlives its deadline.
var ErrTimeout = errors.New("request timed out")

// TimeOutMiddleware bounds unary handlers to timeout. The handler keeps running in the
// background until it observes ctx, but its late result is discarded.
//
// A panic in the handler is raised again on the calling goroutine, so an outer
// RecoverMiddleware still sees it. A panic after the deadline has nobody left to report to
// and is dropped.
//
// Streams are left alone: their lifetime is the subscription, ended by unsubscribe.
func TimeOutMiddleware(timeout time.Duration) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) error {
			if call.Streaming {
				return next(ctx, call, params, emit)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// Results are only forwarded while the deadline has not passed.
			results := make(chan []byte, 1)
			done := make(chan error, 1)
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						panicked <- r
					}
				}()
				done <- next(ctx, call, params, func(result []byte) {
					select {
					case results <- result:
					default:
					}
				})
			}()

			select {
			case err := <-done:
				select {
				case result := <-results:
					emit(result)
				default:
				}
				return err
			case r := <-panicked:
				panic(r)
			case <-ctx.Done():
				return ErrTimeout
			}
		}
	}
}

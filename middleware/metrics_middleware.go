package middleware

import (
	"context"
	"time"

	"turbo-rpc/dispatch"
	"turbo-rpc/metrics"
)

// MetricsMiddleware records in-flight handlers, outcome and duration per handler name.
func MetricsMiddleware(m *metrics.Metrics) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) error {
			finished := m.DispatchStarted()
			defer finished()

			start := time.Now()
			err := next(ctx, call, params, emit)
			m.ObserveDispatch(call.Name, time.Since(start), err)
			return err
		}
	}
}

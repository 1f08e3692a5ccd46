// Package middleware provides dispatch.Middleware implementations.
package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"turbo-rpc/dispatch"
)

// LoggingMiddleware logs every finished call with its duration, and its error if any.
func LoggingMiddleware(logger *zap.Logger) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) error {
			start := time.Now()
			err := next(ctx, call, params, emit)

			fields := []zap.Field{
				zap.String("name", call.Name),
				zap.Uint64("txid", call.TxID),
				zap.Duration("duration", time.Since(start)),
			}
			if call.Conn != nil && call.Conn.RemoteAddr != nil {
				fields = append(fields, zap.Stringer("remote", call.Conn.RemoteAddr))
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("call finished", fields...)
			return nil
		}
	}
}

package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"turbo-rpc/dispatch"
)

// RecoverMiddleware turns a handler panic into an error result so one bad call cannot take
// the whole connection down.
func RecoverMiddleware(logger *zap.Logger) dispatch.Middleware {
	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("name", call.Name),
						zap.Uint64("txid", call.TxID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, call, params, emit)
		}
	}
}

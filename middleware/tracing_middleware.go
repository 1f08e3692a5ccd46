package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"turbo-rpc/dispatch"
)

const defaultTracerName = "turbo-rpc"

// TracingOption configures TracingMiddleware.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	provider trace.TracerProvider
	name     string
}

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) {
		c.provider = tp
	}
}

// WithTracerName sets the tracer name (default: "turbo-rpc").
func WithTracerName(name string) TracingOption {
	return func(c *tracingConfig) {
		c.name = name
	}
}

// TracingMiddleware opens one server span per dispatched call and injects it into the
// handler's context, so sub-calls made by the handler join the trace.
func TracingMiddleware(opts ...TracingOption) dispatch.Middleware {
	cfg := tracingConfig{name: defaultTracerName}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.provider == nil {
		cfg.provider = otel.GetTracerProvider()
	}
	tracer := cfg.provider.Tracer(cfg.name)

	return func(next dispatch.HandlerFunc) dispatch.HandlerFunc {
		return func(ctx context.Context, call *dispatch.Call, params []byte, emit dispatch.Emitter) error {
			attrs := []attribute.KeyValue{
				attribute.String("rpc.system", "turbo-rpc"),
				attribute.String("rpc.method", call.Name),
				attribute.Int64("rpc.txid", int64(call.TxID)),
			}
			if call.Conn != nil {
				if call.Conn.RemoteAddr != nil {
					attrs = append(attrs, attribute.String("net.peer.addr", call.Conn.RemoteAddr.String()))
				}
				if call.Conn.UserAgent != "" {
					attrs = append(attrs, attribute.String("user_agent.original", call.Conn.UserAgent))
				}
			}

			ctx, span := tracer.Start(ctx, "rpc "+call.Name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			results := 0
			err := next(ctx, call, params, func(result []byte) {
				results++
				emit(result)
			})
			span.SetAttributes(attribute.Int("rpc.results", results))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

package dispatch

import (
	"context"
	"fmt"
	"iter"

	"turbo-rpc/protocol"
)

// Unary builds a handler that decodes params as P, runs fn once and emits its result.
//
// It is what generated code would produce for a plain remote function:
//
//	dispatch.Unary("echo", func(ctx context.Context, call *dispatch.Call, p echoParams) (string, error) {
//		return p.Msg, nil
//	})
func Unary[P, R any](name string, fn func(ctx context.Context, call *Call, params P) (R, error)) *Handler {
	return &Handler{
		Name: name,
		Func: func(ctx context.Context, call *Call, raw []byte, emit Emitter) error {
			var params P
			if err := decodeParams(call, raw, &params); err != nil {
				return err
			}

			result, err := fn(ctx, call, params)
			if err != nil {
				return err
			}

			body, err := call.Codec.Encode(result)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			emit(protocol.EncodeValue(body))
			return nil
		},
	}
}

// Stream builds a handler whose body produces a lazy sequence. The dispatcher pulls one item
// at a time and emits it; an item error is emitted as an error result and the stream goes on.
//
// Pulling stops when the sequence ends or ctx is cancelled (the caller unsubscribed or the
// connection closed). Neither is an error. Bodies that block between items should watch ctx.
func Stream[P, R any](name string, fn func(ctx context.Context, call *Call, params P) iter.Seq2[R, error]) *Handler {
	return &Handler{
		Name:      name,
		Streaming: true,
		Func: func(ctx context.Context, call *Call, raw []byte, emit Emitter) error {
			var params P
			if err := decodeParams(call, raw, &params); err != nil {
				return err
			}

			for item, err := range fn(ctx, call, params) {
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					emit(protocol.EncodeError(err))
					continue
				}
				body, err := call.Codec.Encode(item)
				if err != nil {
					emit(protocol.EncodeError(fmt.Errorf("encode result: %w", err)))
					continue
				}
				emit(protocol.EncodeValue(body))
			}
			return nil
		},
	}
}

func decodeParams(call *Call, raw []byte, params any) error {
	if len(raw) == 0 {
		// Zero-arity functions may omit the tuple entirely.
		return nil
	}
	if err := call.Codec.Decode(raw, params); err != nil {
		return &DecodeError{Name: call.Name, Err: err}
	}
	return nil
}

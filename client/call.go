package client

import (
	"context"
	"fmt"
	"time"

	"turbo-rpc/codec"
	"turbo-rpc/dispatch"
	"turbo-rpc/protocol"
)

// Call calls the function registered as name on the peer and waits for its result.
// A failing remote function yields a *protocol.RemoteError carrying its message.
func Call[P, R any](ctx context.Context, c dispatch.Caller, name string, params P) (R, error) {
	var zero R

	if t, ok := c.(interface{ CallTimeout() time.Duration }); ok {
		if d := t.CallTimeout(); d > 0 {
			if _, has := ctx.Deadline(); !has {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
		}
	}

	cdc := c.Codec()
	body, err := cdc.Encode(params)
	if err != nil {
		return zero, fmt.Errorf("encode params of %q: %w", name, err)
	}

	tx := c.NewTransaction()
	defer tx.Close()

	frame := (&protocol.Dispatch{Name: name, TxID: tx.ID(), Params: body}).Encode()
	if err := c.Send(ctx, frame); err != nil {
		return zero, fmt.Errorf("send %q: %w", name, err)
	}

	result, err := tx.Await(ctx)
	if err != nil {
		return zero, err
	}
	return decodeResult[R](cdc, result)
}

func decodeResult[R any](c codec.Codec, result []byte) (R, error) {
	var v R
	body, err := protocol.DecodeResult(result)
	if err != nil {
		return v, err
	}
	if err := c.Decode(body, &v); err != nil {
		return v, fmt.Errorf("decode result: %w", err)
	}
	return v, nil
}

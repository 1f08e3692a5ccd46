// Package demo is a small handler set for trying the runtime out.
package demo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"turbo-rpc/connstate"
	"turbo-rpc/dispatch"
)

type EchoParams struct {
	_   struct{} `cbor:",toarray"`
	Msg string
}

type AddParams struct {
	_    struct{} `cbor:",toarray"`
	A, B int64
}

type TicksParams struct {
	_          struct{} `cbor:",toarray"`
	IntervalMs int64
}

type FailParams struct {
	_      struct{} `cbor:",toarray"`
	Reason string
}

// ConnInfo is what whoami reports about the caller.
type ConnInfo struct {
	RemoteAddr string `cbor:"remote_addr" json:"remote_addr"`
	UserAgent  string `cbor:"user_agent" json:"user_agent"`
}

// ErrNoReason is returned by fail when called without a reason.
var ErrNoReason = errors.New("failed for no reason")

// Arith is the classic two-method service, registered by reflection.
type Arith struct{}

type ArithArgs struct {
	A, B int64
}

type ArithReply struct {
	Result int64
}

func (a *Arith) Add(ctx context.Context, args *ArithArgs, reply *ArithReply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Mul(ctx context.Context, args *ArithArgs, reply *ArithReply) error {
	reply.Result = args.A * args.B
	return nil
}

// MinTickInterval bounds how fast ticks may stream.
const MinTickInterval = 10 * time.Millisecond

// Register adds the demo handlers to table.
func Register(table *dispatch.Table) error {
	if err := table.Register(
		dispatch.Unary("echo", echo),
		dispatch.Unary("add", add),
		dispatch.Unary("increment", increment),
		dispatch.Unary("fail", fail),
		dispatch.Unary("whoami", whoami),
		dispatch.Stream("ticks", ticks),
	); err != nil {
		return err
	}
	return table.RegisterService(&Arith{})
}

func echo(ctx context.Context, call *dispatch.Call, p EchoParams) (string, error) {
	return p.Msg, nil
}

func add(ctx context.Context, call *dispatch.Call, p AddParams) (int64, error) {
	return p.A + p.B, nil
}

// increment counts calls per connection.
func increment(ctx context.Context, call *dispatch.Call, p struct{}) (int64, error) {
	var n int64
	err := connstate.With(ctx, call.Conn.State, "increment", func(v *int64) error {
		*v++
		n = *v
		return nil
	})
	return n, err
}

func fail(ctx context.Context, call *dispatch.Call, p FailParams) (struct{}, error) {
	if p.Reason == "" {
		return struct{}{}, ErrNoReason
	}
	return struct{}{}, errors.New(p.Reason)
}

func whoami(ctx context.Context, call *dispatch.Call, p struct{}) (ConnInfo, error) {
	info := ConnInfo{UserAgent: call.Conn.UserAgent}
	if call.Conn.RemoteAddr != nil {
		info.RemoteAddr = call.Conn.RemoteAddr.String()
	}
	return info, nil
}

// ticks streams 0, 1, 2, ... every IntervalMs milliseconds until unsubscribed.
func ticks(ctx context.Context, call *dispatch.Call, p TicksParams) iter.Seq2[int64, error] {
	interval := time.Duration(p.IntervalMs) * time.Millisecond
	return func(yield func(int64, error) bool) {
		if interval < MinTickInterval {
			yield(0, fmt.Errorf("interval %v below minimum %v", interval, MinTickInterval))
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := int64(0); ; n++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

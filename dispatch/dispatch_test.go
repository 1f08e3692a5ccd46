package dispatch

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turbo-rpc/codec"
	"turbo-rpc/connstate"
	"turbo-rpc/protocol"
)

type echoParams struct {
	_   struct{} `cbor:",toarray"`
	Msg string
}

type countParams struct {
	_ struct{} `cbor:",toarray"`
	N int
}

// recorder collects the frames a dispatch sends.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) send(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *recorder) results(t *testing.T, txid uint64) []*protocol.Response {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*protocol.Response, 0, len(r.frames))
	for _, f := range r.frames {
		resp, err := protocol.DecodeResponse(f)
		require.NoError(t, err)
		require.Equal(t, txid, resp.TxID)
		out = append(out, resp)
	}
	return out
}

func newConn() *Conn {
	return &Conn{State: connstate.New()}
}

func encodeParams(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Default().Encode(v)
	require.NoError(t, err)
	return data
}

func decodeValue[T any](t *testing.T, result []byte) T {
	t.Helper()
	body, err := protocol.DecodeResult(result)
	require.NoError(t, err)
	var v T
	require.NoError(t, codec.Default().Decode(body, &v))
	return v
}

func echoHandler() *Handler {
	return Unary("echo", func(ctx context.Context, call *Call, p echoParams) (string, error) {
		return p.Msg, nil
	})
}

func countHandler() *Handler {
	return Stream("count", func(ctx context.Context, call *Call, p countParams) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			for i := 1; i <= p.N; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}
	})
}

func TestDispatchUnary(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(echoHandler()))

	rec := &recorder{}
	d := &protocol.Dispatch{Name: "echo", TxID: 300, Params: encodeParams(t, echoParams{Msg: "hi"})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))

	results := rec.results(t, 300)
	require.Len(t, results, 1)
	require.Equal(t, "hi", decodeValue[string](t, results[0].Result))
}

func TestDispatchHandlerErrorBecomesString(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(Unary("fail", func(ctx context.Context, call *Call, p struct{}) (int, error) {
		return 0, errors.New("database is locked")
	})))

	rec := &recorder{}
	require.NoError(t, table.Dispatch(context.Background(), &protocol.Dispatch{Name: "fail", TxID: 257}, rec.send, newConn()))

	results := rec.results(t, 257)
	require.Len(t, results, 1)
	_, err := protocol.DecodeResult(results[0].Result)
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "database is locked", remote.Message)
}

func TestDispatchUnknownTag(t *testing.T) {
	table := NewTable(nil)
	rec := &recorder{}

	err := table.Dispatch(context.Background(), &protocol.Dispatch{Name: "nope", TxID: 256}, rec.send, newConn())
	require.ErrorIs(t, err, ErrUnknownHandler)
	require.Empty(t, rec.frames)
}

func TestDispatchUndecodableParams(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(echoHandler()))
	rec := &recorder{}

	err := table.Dispatch(context.Background(), &protocol.Dispatch{Name: "echo", TxID: 256, Params: []byte{0xff}}, rec.send, newConn())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, "echo", decodeErr.Name)
	require.Empty(t, rec.frames)
}

func TestRegisterDuplicate(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(echoHandler()))
	require.ErrorIs(t, table.Register(echoHandler()), ErrDuplicateHandler)
	require.Error(t, table.Register(nil))
	require.ElementsMatch(t, []string{"echo"}, table.Names())
}

func TestDispatchStreamOrder(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(countHandler()))

	h, ok := table.Lookup("count")
	require.True(t, ok)
	require.True(t, h.Streaming)

	rec := &recorder{}
	d := &protocol.Dispatch{Name: "count", TxID: 512, Params: encodeParams(t, countParams{N: 3})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))

	results := rec.results(t, 512)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, i+1, decodeValue[int](t, r.Result))
	}
}

func TestDispatchStreamStopsOnCancel(t *testing.T) {
	table := NewTable(nil)
	stopped := make(chan struct{})
	require.NoError(t, table.Register(Stream("ticks", func(ctx context.Context, call *Call, p struct{}) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			defer close(stopped)
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				if !yield(i, nil) {
					return
				}
			}
		}
	})))

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- table.Dispatch(ctx, &protocol.Dispatch{Name: "ticks", TxID: 999}, rec.send, newConn())
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) >= 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
	<-stopped

	rec.mu.Lock()
	n := len(rec.frames)
	rec.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	rec.mu.Lock()
	require.Equal(t, n, len(rec.frames), "no values after cancellation")
	rec.mu.Unlock()
}

func TestDispatchStreamItemError(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(Stream("flaky", func(ctx context.Context, call *Call, p struct{}) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			if !yield(1, nil) {
				return
			}
			if !yield(0, errors.New("sensor offline")) {
				return
			}
			yield(3, nil)
		}
	})))

	rec := &recorder{}
	require.NoError(t, table.Dispatch(context.Background(), &protocol.Dispatch{Name: "flaky", TxID: 300}, rec.send, newConn()))

	results := rec.results(t, 300)
	require.Len(t, results, 3)
	require.Equal(t, 1, decodeValue[int](t, results[0].Result))
	_, err := protocol.DecodeResult(results[1].Result)
	require.EqualError(t, err, "remote: sensor offline")
	require.Equal(t, 3, decodeValue[int](t, results[2].Result))
}

func TestDispatchPassesConnection(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.Register(Unary("bump", func(ctx context.Context, call *Call, p struct{}) (int, error) {
		var n int
		err := connstate.With(ctx, call.Conn.State, "bump", func(v *int) error {
			*v++
			n = *v
			return nil
		})
		return n, err
	})))

	conn := newConn()
	for want := 1; want <= 3; want++ {
		rec := &recorder{}
		require.NoError(t, table.Dispatch(context.Background(), &protocol.Dispatch{Name: "bump", TxID: 256}, rec.send, conn))
		require.Equal(t, want, decodeValue[int](t, rec.results(t, 256)[0].Result))
	}
}

func TestMiddlewareChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *Call, params []byte, emit Emitter) error {
				order = append(order, name+".before")
				err := next(ctx, call, params, emit)
				order = append(order, name+".after")
				return err
			}
		}
	}

	table := NewTable(nil)
	require.NoError(t, table.Register(echoHandler()))
	table.Use(mark("A"), mark("B"))

	rec := &recorder{}
	d := &protocol.Dispatch{Name: "echo", TxID: 256, Params: encodeParams(t, echoParams{Msg: "x"})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))
	require.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)
}

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(ctx context.Context, args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

func (a *Arith) Caller(ctx context.Context, args *Args, reply *Reply) error {
	call, ok := CallFromContext(ctx)
	if !ok {
		return errors.New("no call in context")
	}
	reply.Result = int(call.TxID)
	return nil
}

// Skipped: wrong shape.
func (a *Arith) Reset() {}

func TestRegisterService(t *testing.T) {
	table := NewTable(nil)
	require.NoError(t, table.RegisterService(&Arith{}))
	require.ElementsMatch(t, []string{"Arith.Add", "Arith.Div", "Arith.Caller"}, table.Names())

	rec := &recorder{}
	d := &protocol.Dispatch{Name: "Arith.Add", TxID: 300, Params: encodeParams(t, Args{A: 1, B: 2})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))
	require.Equal(t, Reply{Result: 3}, decodeValue[Reply](t, rec.results(t, 300)[0].Result))

	rec = &recorder{}
	d = &protocol.Dispatch{Name: "Arith.Div", TxID: 301, Params: encodeParams(t, Args{A: 1})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))
	_, err := protocol.DecodeResult(rec.results(t, 301)[0].Result)
	require.EqualError(t, err, "remote: divide by zero")

	rec = &recorder{}
	d = &protocol.Dispatch{Name: "Arith.Caller", TxID: 4242, Params: encodeParams(t, Args{})}
	require.NoError(t, table.Dispatch(context.Background(), d, rec.send, newConn()))
	require.Equal(t, 4242, decodeValue[Reply](t, rec.results(t, 4242)[0].Result).Result)
}

func TestRegisterServiceRejectsBadReceivers(t *testing.T) {
	table := NewTable(nil)
	require.Error(t, table.RegisterService(Arith{}))
	require.Error(t, table.RegisterService(new(int)))
	require.Error(t, table.RegisterService(nil))

	type Empty struct{}
	require.Error(t, table.RegisterService(&Empty{}))
}

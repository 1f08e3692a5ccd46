package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"turbo-rpc/dispatch"
	"turbo-rpc/protocol"
	"turbo-rpc/registry"
)

type item[R any] struct {
	value R
	err   error
}

type listener[R any] struct {
	id uint64
	fn func(R, error)
}

// Handle is the local end of a remote stream. Nothing is sent until the first Subscribe.
//
// Listeners are reference counted: the first one sends the Dispatch frame with a fresh
// txid; the last one leaving sends the same txid again, which the peer reads as an
// unsubscribe. Every value is fanned out to all listeners and cached, and a new listener
// is handed the cached value before Subscribe returns.
type Handle[R any] struct {
	caller dispatch.Caller
	name   string
	params []byte
	err    error

	// deliverMu orders replays against live deliveries. Listeners may unsubscribe from
	// inside the callback but must not Subscribe there.
	deliverMu sync.Mutex

	mu        sync.Mutex
	listeners []listener[R]
	nextID    uint64
	latest    *item[R]
	tx        *registry.Transaction
	stop      context.CancelFunc
}

// Stream prepares a handle on the streaming function registered as name on the peer.
func Stream[P, R any](c dispatch.Caller, name string, params P) *Handle[R] {
	h := &Handle[R]{caller: c, name: name}
	body, err := c.Codec().Encode(params)
	if err != nil {
		h.err = fmt.Errorf("encode params of %q: %w", name, err)
	}
	h.params = body
	return h
}

// Subscribe registers fn for every value the stream produces. Item errors and connection
// failures are passed as err. The returned func unsubscribes; calling it twice is a no-op.
func (h *Handle[R]) Subscribe(fn func(value R, err error)) (unsubscribe func()) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listener[R]{id: id, fn: fn})
	if len(h.listeners) == 1 {
		h.startLocked()
	}
	latest := h.latest
	h.mu.Unlock()

	if latest != nil {
		fn(latest.value, latest.err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

// Latest returns the most recent value and its error. ok is false until one arrived.
func (h *Handle[R]) Latest() (value R, ok bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return value, false, nil
	}
	return h.latest.value, true, h.latest.err
}

// Subscribers returns the number of listeners.
func (h *Handle[R]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Handle[R]) frame(txid uint64) []byte {
	return (&protocol.Dispatch{Name: h.name, TxID: txid, Params: h.params}).Encode()
}

func (h *Handle[R]) startLocked() {
	if h.err != nil {
		h.latest = &item[R]{err: h.err}
		return
	}

	tx := h.caller.NewTransaction()
	if err := h.caller.Send(context.Background(), h.frame(tx.ID())); err != nil {
		tx.Close()
		h.latest = &item[R]{err: fmt.Errorf("subscribe %q: %w", h.name, err)}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.tx, h.stop = tx, cancel
	go h.pump(ctx, tx)
}

func (h *Handle[R]) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, l := range h.listeners {
		if l.id == id {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			break
		}
	}
	if len(h.listeners) > 0 || h.tx == nil {
		return
	}

	tx, stop := h.tx, h.stop
	h.tx, h.stop = nil, nil
	stop()
	tx.Close()

	// Resending the txid cancels the stream on the peer.
	if err := h.caller.Send(context.Background(), h.frame(tx.ID())); err != nil {
		h.logger().Debug("unsubscribe not sent",
			zap.String("name", h.name),
			zap.Uint64("txid", tx.ID()),
			zap.Error(err),
		)
	}
}

func (h *Handle[R]) logger() *zap.Logger {
	if l, ok := h.caller.(interface{ Logger() *zap.Logger }); ok {
		return l.Logger()
	}
	return zap.NewNop()
}

func (h *Handle[R]) pump(ctx context.Context, tx *registry.Transaction) {
	for {
		payload, err := tx.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, registry.ErrClosed) {
				return
			}
			// The connection went away under a live subscription.
			var zero R
			h.deliver(tx, zero, err)
			h.detach(tx)
			return
		}
		v, err := decodeResult[R](h.caller.Codec(), payload)
		h.deliver(tx, v, err)
	}
}

func (h *Handle[R]) deliver(tx *registry.Transaction, v R, err error) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.tx != tx {
		// Unsubscribed while this value was in flight.
		h.mu.Unlock()
		return
	}
	h.latest = &item[R]{value: v, err: err}
	fns := make([]func(R, error), len(h.listeners))
	for i, l := range h.listeners {
		fns[i] = l.fn
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v, err)
	}
}

func (h *Handle[R]) detach(tx *registry.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx != tx {
		return
	}
	h.stop()
	h.tx, h.stop = nil, nil
	tx.Close()
}

// Package dispatch maps string tags to handlers and runs them.
//
// A handler is registered once at startup under a tag that is unique process-wide. At
// runtime dispatching a call is a map lookup followed by:
//
//	decode params → middleware chain → handler body → encode result(s) → emit
//
// Unary handlers emit exactly one result. Stream handlers emit one result per produced
// item, until the item sequence ends or the call's context is cancelled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"turbo-rpc/codec"
	"turbo-rpc/connstate"
	"turbo-rpc/protocol"
	"turbo-rpc/registry"
)

var (
	ErrDuplicateHandler = errors.New("dispatch: handler already registered")
	ErrUnknownHandler   = errors.New("dispatch: unknown handler")
)

// DecodeError reports a call whose params could not be decoded. No response is sent for it.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dispatch: decode params of %q: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Caller is the calling side of a connection: enough to send a Dispatch frame to the
// peer and wait for its responses. Sessions hand one to every call so handlers can call
// back into the peer that called them.
type Caller interface {
	Codec() codec.Codec
	NewTransaction() *registry.Transaction
	Send(ctx context.Context, frame []byte) error
}

// Conn describes the connection a call arrived on.
type Conn struct {
	RemoteAddr net.Addr         // nil when the transport does not know the peer
	UserAgent  string           // empty unless the transport carries one
	State      *connstate.State // connection-local values, shared by every call on this connection
	Remote     Caller           // calls functions registered on the peer; nil outside a session
}

// Call is everything a handler knows about the call it is serving.
type Call struct {
	Name      string
	TxID      uint64
	Streaming bool
	Conn      *Conn
	Codec     codec.Codec
}

// Emitter hands one encoded result (see protocol.EncodeValue / EncodeError) to the session.
type Emitter func(result []byte)

// HandlerFunc is the uniform shape every handler is reduced to.
// A returned *DecodeError means nothing was emitted and nothing will be; any other error
// is sent to the caller as the error side of the result.
type HandlerFunc func(ctx context.Context, call *Call, params []byte, emit Emitter) error

// Handler is a registered call target.
type Handler struct {
	Name      string
	Streaming bool
	Func      HandlerFunc
}

// Table is the dispatch table of one runtime.
type Table struct {
	codec       codec.Codec
	mu          sync.RWMutex
	handlers    map[string]*Handler
	middlewares []Middleware
	chain       Middleware
}

// NewTable creates an empty table whose handlers decode and encode with c.
// A nil codec selects codec.Default().
func NewTable(c codec.Codec) *Table {
	if c == nil {
		c = codec.Default()
	}
	return &Table{
		codec:    c,
		handlers: make(map[string]*Handler),
		chain:    Chain(),
	}
}

// Codec returns the payload codec of the table.
func (t *Table) Codec() codec.Codec {
	return t.codec
}

// Use registers a middleware. Middlewares are applied in the order they are added and wrap
// every handler, including ones registered earlier.
func (t *Table) Use(mw ...Middleware) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.middlewares = append(t.middlewares, mw...)
	t.chain = Chain(t.middlewares...)
}

// Register adds handlers to the table. Tags must be unique.
func (t *Table) Register(handlers ...*Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range handlers {
		if h == nil || h.Func == nil {
			return fmt.Errorf("dispatch: nil handler")
		}
		if _, ok := t.handlers[h.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateHandler, h.Name)
		}
		t.handlers[h.Name] = h
	}
	return nil
}

// Lookup finds the handler registered under name.
func (t *Table) Lookup(name string) (*Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[name]
	return h, ok
}

// Names lists the registered tags.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the handler named by d and sends each produced result through send as a
// complete Response frame tagged with d.TxID.
//
// Handler errors become error results and Dispatch returns nil for them. Dispatch returns
// an error only when no response could be produced at all: unknown tag or undecodable params.
func (t *Table) Dispatch(ctx context.Context, d *protocol.Dispatch, send func(frame []byte), conn *Conn) error {
	h, ok := t.Lookup(d.Name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, d.Name)
	}

	t.mu.RLock()
	chain := t.chain
	t.mu.RUnlock()

	call := &Call{
		Name:      d.Name,
		TxID:      d.TxID,
		Streaming: h.Streaming,
		Conn:      conn,
		Codec:     t.codec,
	}
	emit := func(result []byte) {
		send(protocol.EncodeResponse(d.TxID, result))
	}

	err := chain(h.Func)(ctx, call, d.Params, emit)
	if err == nil {
		return nil
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	emit(protocol.EncodeError(err))
	return nil
}

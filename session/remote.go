package session

import (
	"context"
	"net"

	"go.uber.org/zap"

	"turbo-rpc/codec"
	"turbo-rpc/registry"
	"turbo-rpc/transport"
)

// Remote is the calling side of one peer of a session. It implements dispatch.Caller.
type Remote struct {
	s    *Session
	addr net.Addr
}

// Remote returns the calling side for peer. On connection-oriented transports pass nil.
func (s *Session) Remote(peer net.Addr) *Remote {
	return &Remote{s: s, addr: peer}
}

// Codec returns the payload codec shared with the peer.
func (r *Remote) Codec() codec.Codec {
	return r.s.table.Codec()
}

// NewTransaction registers a transaction bound to the session lifetime.
func (r *Remote) NewTransaction() *registry.Transaction {
	return r.s.registry.NewTransaction(r.s.done)
}

// Send queues frame for the peer.
func (r *Remote) Send(ctx context.Context, frame []byte) error {
	return r.s.enqueue(ctx, transport.Message{Peer: r.addr, Data: frame})
}

// Addr returns the peer address, nil for connection-oriented transports.
func (r *Remote) Addr() net.Addr {
	return r.addr
}

// Done is closed when the session closes.
func (r *Remote) Done() <-chan struct{} {
	return r.s.done
}

// Logger returns the session logger.
func (r *Remote) Logger() *zap.Logger {
	return r.s.logger
}

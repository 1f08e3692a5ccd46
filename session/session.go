// Package session runs the protocol over one transport connection.
//
// A Session owns a transport.Conn and does three things with it:
//
//	read loop:  frame → Peek ─┬─ response(txid) → registry.Route → waiting caller
//	                          └─ dispatch       → trigger table → go Table.Dispatch
//	handlers:   emit result   → outbound queue
//	writer:     outbound queue → transport (single goroutine, keeps send order) + heartbeat
//
// Each dispatch frame runs in its own goroutine, so inbound calls are served concurrently
// and may finish in any order. Frames one handler emits reach the wire in emit order.
//
// Resending a txid that is still in the trigger table cancels that call instead of
// starting a new one. That is how a client unsubscribes from a stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"turbo-rpc/dispatch"
	"turbo-rpc/metrics"
	"turbo-rpc/protocol"
	"turbo-rpc/registry"
	"turbo-rpc/transport"
)

var (
	// ErrClosed is returned when sending on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session: already running")
)

// State is the lifecycle state of a session.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session serves one transport connection.
type Session struct {
	conn     transport.Conn
	table    *dispatch.Table
	registry *registry.Registry
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics

	out       chan transport.Message
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	running   atomic.Bool
	handlers  sync.WaitGroup

	// Connection-oriented transports use only defaultPeer; connectionless ones key peers
	// by source address.
	defaultPeer *peer
	mu          sync.Mutex
	peers       map[string]*peer
}

// New creates a session over conn serving the handlers of table. A nil table serves nothing
// (the session can still make outbound calls through Remote).
func New(conn transport.Conn, table *dispatch.Table, opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if table == nil {
		table = dispatch.NewTable(nil)
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}

	s := &Session{
		conn:     conn,
		table:    table,
		registry: reg,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		out:      make(chan transport.Message, cfg.OutboundQueue),
		done:     make(chan struct{}),
		peers:    make(map[string]*peer),
	}

	var (
		addr net.Addr
		ua   string
	)
	if d, ok := conn.(transport.Describer); ok {
		addr, ua = d.RemoteAddr(), d.UserAgent()
	}
	s.defaultPeer = newPeer(addr, ua, s.Remote(nil))
	if addr != nil {
		s.logger = s.logger.With(zap.Stringer("remote", addr))
	}
	return s
}

// Run serves the connection until it fails, the peer goes away, ctx is done or Close is
// called. In-flight handlers are cancelled and waited for before Run returns.
// An ordinary end of the connection returns nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	s.logger.Info("session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The read loop blocks in the transport; closing the transport is what unblocks it.
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	if s.cfg.PeerIdleTimeout > 0 {
		go s.evictIdlePeers(s.cfg.PeerIdleTimeout)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	err := s.readLoop(ctx)
	stopped := ctx.Err() != nil

	s.Close()
	cancel()
	s.cancelAll()
	s.handlers.Wait()
	<-writerDone
	s.state.Store(int32(StateClosed))

	if stopped || transport.IsExpectedClose(err) {
		s.logger.Info("session closed")
		return nil
	}
	s.logger.Warn("session closed with error", zap.Error(err))
	return err
}

// Close stops the session. It is safe to call from any goroutine and more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Registry returns the transaction registry of the session.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// Peers returns the number of peers that have sent a call.
func (s *Session) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		m, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		s.handleFrame(ctx, m)
	}
}

// handleFrame routes or dispatches one inbound frame. Routing and the trigger table
// lookup happen here, in arrival order; only handler bodies run concurrently.
func (s *Session) handleFrame(ctx context.Context, m transport.Message) {
	kind, word, err := protocol.Peek(m.Data)
	if err != nil {
		s.metrics.FrameReceived("invalid", len(m.Data))
		if errors.Is(err, protocol.ErrShortFrame) {
			s.logger.Debug("dropping short frame", zap.Int("size", len(m.Data)))
			return
		}
		s.metrics.DecodeError()
		s.logger.Error("invalid frame", zap.Uint64("word", word), zap.Error(err))
		return
	}
	s.metrics.FrameReceived(kind.String(), len(m.Data))

	switch kind {
	case protocol.KindResponse:
		resp, err := protocol.DecodeResponse(m.Data)
		if err != nil {
			s.metrics.DecodeError()
			s.logger.Error("decode response", zap.Error(err))
			return
		}
		if !s.registry.Route(resp.TxID, resp.Result) {
			s.metrics.ResponseDropped()
			s.logger.Debug("no transaction for response", zap.Uint64("txid", resp.TxID))
		}

	case protocol.KindDispatch:
		s.dispatch(ctx, m)
	}
}

func (s *Session) dispatch(ctx context.Context, m transport.Message) {
	d, err := protocol.DecodeDispatch(m.Data)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.Error("decode dispatch", zap.Error(err))
		return
	}
	h, ok := s.table.Lookup(d.Name)
	if !ok {
		s.metrics.DecodeError()
		s.logger.Error("unknown dispatch tag", zap.String("name", d.Name), zap.Uint64("txid", d.TxID))
		return
	}

	p := s.peerFor(m.Peer)
	callCtx, t, armed := p.arm(ctx, d.TxID)
	if !armed {
		s.metrics.Unsubscribed()
		s.logger.Debug("unsubscribed", zap.String("name", d.Name), zap.Uint64("txid", d.TxID))
		return
	}

	send := func(frame []byte) {
		if err := s.enqueue(callCtx, transport.Message{Peer: m.Peer, Data: frame}); err != nil {
			s.logger.Debug("response not sent", zap.Uint64("txid", d.TxID), zap.Error(err))
		}
	}

	s.handlers.Add(1)
	p.running.Add(1)
	go func() {
		defer s.handlers.Done()
		defer p.running.Add(-1)
		defer p.finish(d.TxID, t, h.Streaming)
		defer s.recoverHandler(d, send)

		if err := s.table.Dispatch(callCtx, d, send, p.conn); err != nil {
			s.metrics.DecodeError()
			s.logger.Error("dispatch failed", zap.String("name", d.Name), zap.Uint64("txid", d.TxID), zap.Error(err))
		}
	}()
}

// recoverHandler keeps a panicking handler from taking the process down. The caller gets
// the panic as an error result.
func (s *Session) recoverHandler(d *protocol.Dispatch, send func([]byte)) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("handler panic",
		zap.String("name", d.Name),
		zap.Uint64("txid", d.TxID),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()),
	)
	send(protocol.EncodeResponse(d.TxID, protocol.EncodeError(fmt.Errorf("handler panic: %v", r))))
}

func (s *Session) peerFor(addr net.Addr) *peer {
	if addr == nil {
		return s.defaultPeer
	}
	key := addr.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[key]
	if !ok {
		p = newPeer(addr, "", s.Remote(addr))
		s.peers[key] = p
	}
	// Touched under s.mu so the eviction sweep cannot drop a peer that is being handed out.
	p.touch()
	return p
}

// evictIdlePeers drops connectionless peers that went quiet, so a socket that hears from
// many source addresses does not keep every one of them forever.
func (s *Session) evictIdlePeers(timeout time.Duration) {
	interval := timeout / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			cutoff := now.Add(-timeout)
			s.mu.Lock()
			for key, p := range s.peers {
				if p.idle(cutoff) {
					p.cancelAll()
					delete(s.peers, key)
					s.logger.Debug("evicted idle peer", zap.String("peer", key))
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *Session) cancelAll() {
	s.defaultPeer.cancelAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.cancelAll()
	}
}

// enqueue hands a frame to the writer. A cancelled ctx drops the frame, so nothing a
// cancelled stream produces reaches the wire after the cancellation.
func (s *Session) enqueue(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.out <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) writeLoop() {
	var tick <-chan time.Time
	pinger, canPing := s.conn.(transport.Pinger)
	if canPing && s.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case m := <-s.out:
			if err := s.conn.WriteMessage(m); err != nil {
				if m.Peer != nil && !transport.IsExpectedClose(err) {
					// One unreachable datagram peer does not end the shared socket.
					s.logger.Warn("write to peer failed", zap.Stringer("peer", m.Peer), zap.Error(err))
					continue
				}
				s.logger.Debug("write failed", zap.Error(err))
				s.Close()
				return
			}
			s.metrics.FrameSent(len(m.Data))

		case <-tick:
			if err := pinger.Ping(); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				s.Close()
				return
			}

		case <-s.done:
			return
		}
	}
}

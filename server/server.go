// Package server hosts a dispatch table on WebSocket and UDP endpoints.
//
// Each accepted WebSocket gets its own session (and so its own connection-local state).
// A UDP socket is served by one shared session that keys peers by source address:
//
//	HTTP upgrade /turbocharger_socket → session per connection ─┐
//	UDP socket                        → one session, many peers ─┼─→ dispatch.Table
//
// All sessions of a server share one transaction registry, so handlers and the host
// program can call functions on connected peers (see dispatch.Conn.Remote, UDPRemote).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"turbo-rpc/dispatch"
	"turbo-rpc/registry"
	"turbo-rpc/session"
	"turbo-rpc/transport"
)

var (
	// ErrServerClosed is returned by serve methods after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	// ErrNoUDP is returned by UDPRemote when no UDP socket is being served.
	ErrNoUDP = errors.New("server: not serving udp")

	// ErrUDPServing is returned when a second UDP socket is served.
	ErrUDPServing = errors.New("server: already serving udp")
)

// Server hosts one dispatch table.
type Server struct {
	table    *dispatch.Table
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
	registry *registry.Registry

	// ctx is the lifetime of every session; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
	sessions map[*session.Session]struct{}
	udp      *session.Session
}

// New creates a server for table.
func New(table *dispatch.Table, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		table:  table,
		cfg:    cfg,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		registry: registry.New(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session.Session]struct{}),
	}
}

func (s *Server) sessionOptions() []session.Option {
	return []session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.cfg.Metrics),
		session.WithRegistry(s.registry),
		session.WithHeartbeat(s.cfg.HeartbeatInterval),
		session.WithOutboundQueue(s.cfg.OutboundQueue),
		session.WithPeerIdleTimeout(s.cfg.UDPPeerIdleTimeout),
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Path != "" && r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}
	if s.closed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := transport.Upgrade(w, r, &s.upgrader, s.cfg.WebSocket)
	if err != nil {
		// The upgrader has already answered the request.
		s.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	sess := session.New(ws, s.table, s.sessionOptions()...)
	if !s.track(sess) {
		sess.Close()
		return
	}
	defer s.untrack(sess)

	if err := sess.Run(s.ctx); err != nil {
		s.logger.Warn("websocket session failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}

// ServeUDP serves a bound UDP socket until ctx is done or the server shuts down.
// The socket is closed on return.
func (s *Server) ServeUDP(ctx context.Context, conn *transport.UDP) error {
	sess := session.New(conn, s.table, s.sessionOptions()...)

	s.mu.Lock()
	switch {
	case s.shutdown:
		s.mu.Unlock()
		conn.Close()
		return ErrServerClosed
	case s.udp != nil:
		s.mu.Unlock()
		conn.Close()
		return ErrUDPServing
	}
	s.udp = sess
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.udp = nil
		s.mu.Unlock()
		s.untrack(sess)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.logger.Info("serving udp", zap.Stringer("addr", conn.LocalAddr()))
	return sess.Run(ctx)
}

// ListenUDP binds addr and serves it, see ServeUDP.
func (s *Server) ListenUDP(ctx context.Context, addr string) error {
	conn, err := transport.ListenUDP(addr, s.cfg.UDPBufferSize)
	if err != nil {
		return err
	}
	return s.ServeUDP(ctx, conn)
}

// UDPRemote returns the calling side for a UDP peer, for calling functions it registered.
func (s *Server) UDPRemote(peer net.Addr) (*session.Remote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return nil, ErrNoUDP
	}
	return s.udp.Remote(peer), nil
}

// Sessions returns the number of live sessions, the UDP session included.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Registry returns the transaction registry shared by every session.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Shutdown closes every session and waits for their handlers to return.
// New connections are refused from the moment it is called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("shutting down", zap.Int("sessions", n))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for sessions to finish: %w", ctx.Err())
	}
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) track(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}

// Package client is the calling side of the runtime.
//
// A Client owns one session to a server. Calls go through the generic helpers:
//
//	sum, err := client.Call[addParams, int](ctx, c, "add", addParams{A: 3, B: 5})
//
//	ticks := client.Stream[struct{}, int](c, "ticks", struct{}{})
//	unsubscribe := ticks.Subscribe(func(n int, err error) { ... })
//	defer unsubscribe()
//
// Call and Stream accept any dispatch.Caller, so a handler can use them on
// call.Conn.Remote to call back into the peer that called it.
package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"turbo-rpc/codec"
	"turbo-rpc/dispatch"
	"turbo-rpc/registry"
	"turbo-rpc/session"
	"turbo-rpc/transport"
)

// Client is a connection to one server. Functions registered in the table passed to
// Dial can be called by the server.
type Client struct {
	session *session.Session
	remote  *session.Remote
	cfg     Config
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Dial connects to a WebSocket endpoint such as ws://localhost:8080/turbocharger_socket.
// table may be nil when the client exposes no functions.
func Dial(ctx context.Context, url string, table *dispatch.Table, opts ...Option) (*Client, error) {
	cfg := buildConfig(opts)

	header := http.Header{}
	for k, v := range cfg.Header {
		header[k] = v
	}
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}

	ws, err := transport.DialWebSocket(ctx, url, header, cfg.WebSocket)
	if err != nil {
		return nil, err
	}
	return newClient(ws, nil, table, cfg), nil
}

// DialUDP binds an ephemeral local port and talks to the UDP endpoint at addr.
func DialUDP(addr string, table *dispatch.Table, opts ...Option) (*Client, error) {
	cfg := buildConfig(opts)

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	udp, err := transport.ListenUDP(":0", cfg.UDPBufferSize)
	if err != nil {
		return nil, err
	}
	return newClient(udp, raddr, table, cfg), nil
}

// NewClient runs a client over an established transport. peer is the destination on
// connectionless transports and nil otherwise.
func NewClient(conn transport.Conn, peer net.Addr, table *dispatch.Table, opts ...Option) *Client {
	return newClient(conn, peer, table, buildConfig(opts))
}

func buildConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newClient(conn transport.Conn, peer net.Addr, table *dispatch.Table, cfg Config) *Client {
	s := session.New(conn, table,
		session.WithLogger(cfg.Logger),
		session.WithMetrics(cfg.Metrics),
		session.WithHeartbeat(cfg.HeartbeatInterval),
		session.WithOutboundQueue(cfg.OutboundQueue),
	)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		session: s,
		remote:  s.Remote(peer),
		cfg:     cfg,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.err = s.Run(ctx)
	}()
	return c
}

// Codec returns the payload codec.
func (c *Client) Codec() codec.Codec {
	return c.remote.Codec()
}

// NewTransaction registers a transaction bound to the connection.
func (c *Client) NewTransaction() *registry.Transaction {
	return c.remote.NewTransaction()
}

// Send queues a frame for the server.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	return c.remote.Send(ctx, frame)
}

// Logger returns the connection logger.
func (c *Client) Logger() *zap.Logger {
	return c.remote.Logger()
}

// CallTimeout returns the configured default Call timeout.
func (c *Client) CallTimeout() time.Duration {
	return c.cfg.CallTimeout
}

// Session returns the underlying session.
func (c *Client) Session() *session.Session {
	return c.session
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error the connection ended with, once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close ends the connection. Pending calls fail with registry.ErrSessionClosed.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return c.err
}

package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"turbo-rpc/metrics"
	"turbo-rpc/transport"
)

// DefaultPath is where the socket endpoint is mounted.
const DefaultPath = "/turbocharger_socket"

// Config holds server settings.
type Config struct {
	// Path is the request path ServeHTTP accepts. Empty accepts any path, for when the
	// server is mounted by a router.
	// Default: DefaultPath
	Path string

	// WebSocket holds the socket limits and timeouts.
	WebSocket transport.WebSocketConfig

	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: nil (gorilla's same-origin check)
	CheckOrigin func(r *http.Request) bool

	// UDPBufferSize is the largest datagram ListenUDP can receive.
	// Default: transport.DefaultUDPBufferSize
	UDPBufferSize int

	// UDPPeerIdleTimeout evicts a UDP peer and its connection-local state once it has been
	// quiet this long. Zero keeps peers while the socket lives.
	// Default: 5 minutes
	UDPPeerIdleTimeout time.Duration

	// HeartbeatInterval is the WebSocket keep-alive interval. Zero disables it.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// OutboundQueue is the per-session outbound frame queue capacity.
	// Default: 256
	OutboundQueue int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:               DefaultPath,
		WebSocket:          transport.DefaultWebSocketConfig(),
		UDPBufferSize:      transport.DefaultUDPBufferSize,
		UDPPeerIdleTimeout: 5 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
		OutboundQueue:      256,
		Logger:             zap.NewNop(),
	}
}

// Option configures a server.
type Option func(*Config)

// WithPath sets the socket path.
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithWebSocketConfig sets the WebSocket limits and timeouts.
func WithWebSocketConfig(ws transport.WebSocketConfig) Option {
	return func(c *Config) {
		c.WebSocket = ws
	}
}

// WithCheckOrigin sets the upgrade origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithUDPBufferSize sets the UDP receive buffer size.
func WithUDPBufferSize(n int) Option {
	return func(c *Config) {
		c.UDPBufferSize = n
	}
}

// WithUDPPeerIdleTimeout sets how long a quiet UDP peer is kept.
func WithUDPPeerIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.UDPPeerIdleTimeout = d
	}
}

// WithHeartbeat sets the keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// WithOutboundQueue sets the per-session outbound queue capacity.
func WithOutboundQueue(n int) Option {
	return func(c *Config) {
		c.OutboundQueue = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

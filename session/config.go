package session

import (
	"time"

	"go.uber.org/zap"

	"turbo-rpc/metrics"
	"turbo-rpc/registry"
)

// Config holds session settings.
type Config struct {
	// OutboundQueue is the capacity of the outbound frame queue. Handlers block once it
	// is full until the writer catches up.
	// Default: 256
	OutboundQueue int

	// HeartbeatInterval is the interval between keep-alive pings on transports that
	// support them. Zero disables the heartbeat.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// PeerIdleTimeout evicts a connectionless peer, with its trigger table and
	// connection-local state, once it has sent nothing and run nothing for this long.
	// Zero keeps peers for the lifetime of the socket.
	// Default: 5 minutes
	PeerIdleTimeout time.Duration

	// Logger receives lifecycle and error logs.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// Metrics records frame and dispatch counters. Nil disables metrics.
	Metrics *metrics.Metrics

	// Registry tracks the transactions of calls made through Remote. Sessions of one
	// runtime share it. Nil gives the session a registry of its own.
	Registry *registry.Registry
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OutboundQueue:     256,
		HeartbeatInterval: 30 * time.Second,
		PeerIdleTimeout:   5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// Option configures a session.
type Option func(*Config)

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

// WithRegistry sets the transaction registry used for outbound calls.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

// WithOutboundQueue sets the outbound queue capacity.
func WithOutboundQueue(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.OutboundQueue = n
		}
	}
}

// WithHeartbeat sets the keep-alive interval. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// WithPeerIdleTimeout sets how long an idle connectionless peer is kept. Zero disables
// eviction.
func WithPeerIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PeerIdleTimeout = d
	}
}

package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"turbo-rpc/metrics"
	"turbo-rpc/transport"
)

// Config holds client settings.
type Config struct {
	// CallTimeout bounds Call when the caller's context has no deadline. Zero means no bound.
	CallTimeout time.Duration

	// UserAgent is sent with the WebSocket handshake.
	// Default: "turbo-rpc"
	UserAgent string

	// Header carries extra handshake headers.
	Header http.Header

	// WebSocket holds the socket limits and timeouts.
	WebSocket transport.WebSocketConfig

	// UDPBufferSize is the largest datagram DialUDP can receive.
	// Default: transport.DefaultUDPBufferSize
	UDPBufferSize int

	// HeartbeatInterval is the WebSocket keep-alive interval. Zero disables it.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// OutboundQueue is the capacity of the outbound frame queue.
	// Default: 256
	OutboundQueue int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:         "turbo-rpc",
		WebSocket:         transport.DefaultWebSocketConfig(),
		UDPBufferSize:     transport.DefaultUDPBufferSize,
		HeartbeatInterval: 30 * time.Second,
		OutboundQueue:     256,
		Logger:            zap.NewNop(),
	}
}

// Option configures a client.
type Option func(*Config)

// WithCallTimeout sets the default Call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CallTimeout = d
	}
}

// WithUserAgent sets the handshake User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithHeader adds handshake headers.
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithWebSocketConfig sets the WebSocket limits and timeouts.
func WithWebSocketConfig(ws transport.WebSocketConfig) Option {
	return func(c *Config) {
		c.WebSocket = ws
	}
}

// WithHeartbeat sets the keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds the limits and timeouts of a WebSocket binding.
type WebSocketConfig struct {
	// ReadTimeout is the maximum time without any inbound traffic (frames or pongs).
	// Default: 60 seconds. Zero disables the deadline.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to write one frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: 1MB.
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns a WebSocketConfig with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// WebSocket binds a gorilla WebSocket connection. Frames travel as binary messages;
// ping/pong/close control frames are handled by gorilla and never surface as frames.
type WebSocket struct {
	conn      *websocket.Conn
	userAgent string
	cfg       WebSocketConfig
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, userAgent string, cfg WebSocketConfig) *WebSocket {
	ws := &WebSocket{conn: conn, userAgent: userAgent, cfg: cfg}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		})
	}
	return ws
}

// Upgrade upgrades an HTTP request to a WebSocket binding, recording the User-Agent.
func Upgrade(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, cfg WebSocketConfig) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebSocket(conn, r.UserAgent(), cfg), nil
}

// DialWebSocket connects to a WebSocket endpoint such as ws://host/turbocharger_socket.
func DialWebSocket(ctx context.Context, url string, header http.Header, cfg WebSocketConfig) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewWebSocket(conn, header.Get("User-Agent"), cfg), nil
}

func (ws *WebSocket) ReadMessage() (Message, error) {
	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		if ws.cfg.ReadTimeout > 0 {
			ws.conn.SetReadDeadline(time.Now().Add(ws.cfg.ReadTimeout))
		}
		if mt != websocket.BinaryMessage {
			// Text frames are not part of the protocol.
			continue
		}
		return Message{Data: data}, nil
	}
}

func (ws *WebSocket) WriteMessage(m Message) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if ws.cfg.WriteTimeout > 0 {
		ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
	}
	return ws.conn.WriteMessage(websocket.BinaryMessage, m.Data)
}

// Ping sends a keep-alive ping; the peer's pong extends the read deadline.
func (ws *WebSocket) Ping() error {
	timeout := ws.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close sends a close frame (best effort) and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) RemoteAddr() net.Addr {
	return ws.conn.RemoteAddr()
}

func (ws *WebSocket) UserAgent() string {
	return ws.userAgent
}

// IsExpectedClose reports whether err is an ordinary end of a connection (peer went
// away, closed normally, or we closed it) rather than a failure worth logging.
func IsExpectedClose(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return !websocket.IsUnexpectedCloseError(err,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived)
	}
	return false
}

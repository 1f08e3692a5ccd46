// Package transport provides the duplex byte-message channels sessions run on.
//
// A Conn moves whole frames, never partial ones. Two kinds of binding exist:
//
//   - connection-oriented (WebSocket, Pipe): one peer per Conn, Message.Peer is nil
//   - connectionless (UDP): many peers share one Conn, Message.Peer is the source on read
//     and the destination on write
package transport

import (
	"errors"
	"net"
)

var (
	// ErrClosed is returned by operations on a closed Conn.
	ErrClosed = errors.New("transport: closed")

	// ErrNoPeer is returned when writing to a connectionless Conn without a destination.
	ErrNoPeer = errors.New("transport: message has no peer address")
)

// Message is one frame plus the peer it came from or goes to.
type Message struct {
	Peer net.Addr
	Data []byte
}

// Conn is a duplex frame channel. ReadMessage is called from a single goroutine and
// WriteMessage from a single (different) goroutine; Close may be called from any.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(m Message) error
	Close() error
}

// Describer is implemented by connection-oriented bindings that know their one peer.
type Describer interface {
	RemoteAddr() net.Addr
	UserAgent() string
}

// Pinger is implemented by bindings with a transport-level keep-alive.
type Pinger interface {
	Ping() error
}

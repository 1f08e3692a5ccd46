package transport

import (
	"fmt"
	"net"
	"sync"
)

// DefaultUDPBufferSize fits the largest possible UDP payload.
const DefaultUDPBufferSize = 65535

// UDP binds a datagram socket shared by every peer. Each datagram is one frame.
type UDP struct {
	conn    *net.UDPConn
	bufSize int
	once    sync.Once
}

// NewUDP wraps a bound socket. bufSize bounds the datagrams that can be received;
// longer ones are truncated by the kernel and will fail to decode.
func NewUDP(conn *net.UDPConn, bufSize int) *UDP {
	if bufSize <= 0 {
		bufSize = DefaultUDPBufferSize
	}
	return &UDP{conn: conn, bufSize: bufSize}
}

// ListenUDP binds addr (e.g. "0.0.0.0:8081", ":0").
func ListenUDP(addr string, bufSize int) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return NewUDP(conn, bufSize), nil
}

func (u *UDP) ReadMessage() (Message, error) {
	buf := make([]byte, u.bufSize)
	n, peer, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		return Message{}, err
	}
	return Message{Peer: peer, Data: buf[:n]}, nil
}

func (u *UDP) WriteMessage(m Message) error {
	if m.Peer == nil {
		return ErrNoPeer
	}
	_, err := u.conn.WriteTo(m.Data, m.Peer)
	return err
}

func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		err = u.conn.Close()
	})
	return err
}

// LocalAddr returns the bound address, useful after listening on port 0.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

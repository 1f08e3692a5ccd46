package transport

import (
	"io"
	"net"
	"sync"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

type pipeEnd struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (e *pipeEnd) close() {
	e.once.Do(func() { close(e.closed) })
}

// PipeConn is one end of an in-memory connection-oriented binding.
type PipeConn struct {
	in, out   *pipeEnd
	local     *pipeEnd
	name      string
	userAgent string
}

// Pipe returns two connected in-memory ends. Frames written to one are read from the other,
// in order. Closing either end ends both directions.
func Pipe() (*PipeConn, *PipeConn) {
	a := &pipeEnd{frames: make(chan []byte, 64), closed: make(chan struct{})}
	b := &pipeEnd{frames: make(chan []byte, 64), closed: make(chan struct{})}
	return &PipeConn{in: a, out: b, local: a, name: "pipe-a"},
		&PipeConn{in: b, out: a, local: b, name: "pipe-b"}
}

// WithUserAgent sets the user agent reported for this end's peer.
func (p *PipeConn) WithUserAgent(ua string) *PipeConn {
	p.userAgent = ua
	return p
}

func (p *PipeConn) ReadMessage() (Message, error) {
	// Frames already queued are still delivered after the writer closes.
	select {
	case data := <-p.in.frames:
		return Message{Data: data}, nil
	default:
	}
	select {
	case data := <-p.in.frames:
		return Message{Data: data}, nil
	case <-p.in.closed:
		return Message{}, ErrClosed
	case <-p.out.closed:
		select {
		case data := <-p.in.frames:
			return Message{Data: data}, nil
		default:
		}
		return Message{}, io.EOF
	}
}

func (p *PipeConn) WriteMessage(m Message) error {
	data := append([]byte(nil), m.Data...)
	select {
	case <-p.in.closed:
		return ErrClosed
	case <-p.out.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out.frames <- data:
		return nil
	case <-p.in.closed:
		return ErrClosed
	case <-p.out.closed:
		return ErrClosed
	}
}

func (p *PipeConn) Close() error {
	p.local.close()
	return nil
}

func (p *PipeConn) RemoteAddr() net.Addr {
	return pipeAddr(p.name)
}

func (p *PipeConn) UserAgent() string {
	return p.userAgent
}

package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"turbo-rpc/connstate"
	"turbo-rpc/dispatch"
)

// trigger cancels one in-flight call.
type trigger struct {
	cancel context.CancelFunc
}

// peer is everything the session keeps per remote endpoint: the connection context handed
// to handlers and the trigger table. Connection-oriented transports have exactly one peer;
// the UDP binding has one per source address, so txids of different peers never collide.
type peer struct {
	addr net.Addr
	conn *dispatch.Conn

	mu       sync.Mutex
	triggers map[uint64]*trigger

	// lastSeen is the unix-nano time of the last inbound call or finished handler.
	lastSeen atomic.Int64
	running  atomic.Int32
}

func newPeer(addr net.Addr, userAgent string, remote dispatch.Caller) *peer {
	p := &peer{
		addr: addr,
		conn: &dispatch.Conn{
			RemoteAddr: addr,
			UserAgent:  userAgent,
			State:      connstate.New(),
			Remote:     remote,
		},
		triggers: make(map[uint64]*trigger),
	}
	p.touch()
	return p
}

func (p *peer) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

// idle reports whether nothing ran and nothing arrived since cutoff.
func (p *peer) idle(cutoff time.Time) bool {
	return p.running.Load() == 0 && p.lastSeen.Load() < cutoff.UnixNano()
}

// arm looks txid up in the trigger table. A live entry means the frame is an unsubscribe:
// the entry is fired, removed, and arm reports false. Otherwise a fresh trigger is stored
// and the call's context is returned.
func (p *peer) arm(parent context.Context, txid uint64) (context.Context, *trigger, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.triggers[txid]; ok {
		delete(p.triggers, txid)
		t.cancel()
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	t := &trigger{cancel: cancel}
	p.triggers[txid] = t
	return ctx, t, true
}

// finish runs when a handler returns. Unary entries are removed. Stream entries stay
// behind so that a late unsubscribe after the stream ended on its own is still read as
// an unsubscribe, not as a new call.
func (p *peer) finish(txid uint64, t *trigger, streaming bool) {
	t.cancel()
	p.touch()
	if streaming {
		return
	}
	p.mu.Lock()
	if p.triggers[txid] == t {
		delete(p.triggers, txid)
	}
	p.mu.Unlock()
}

// live returns the number of entries in the trigger table.
func (p *peer) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.triggers)
}

func (p *peer) cancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for txid, t := range p.triggers {
		t.cancel()
		delete(p.triggers, txid)
	}
}

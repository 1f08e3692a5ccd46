package registry

import (
	"context"
	"sync"
)

// Transaction is the caller side of one in-flight call.
//
// Exactly one writer (the frame router) pushes into it and one reader (the caller)
// consumes from it. The mailbox is unbounded so a slow caller never blocks the reader
// of the connection.
type Transaction struct {
	id       uint64
	registry *Registry

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{} // capacity 1, poked on every push
	closed chan struct{}
	once   sync.Once
	done   <-chan struct{}
}

// ID returns the transaction id to put in the outgoing Dispatch envelope.
func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) push(payload []byte) bool {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return false
	default:
	}
	t.queue = append(t.queue, payload)
	t.mu.Unlock()

	select {
	case t.signal <- struct{}{}:
	default:
	}
	return true
}

func (t *Transaction) pop() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil, false
	}
	payload := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return payload, true
}

// Next waits for the next payload routed to this transaction. Streaming calls use it in a
// loop. There is no built-in timeout: it returns when a payload arrives, ctx is done, the
// transaction is closed, or the carrying session goes away.
func (t *Transaction) Next(ctx context.Context) ([]byte, error) {
	for {
		if payload, ok := t.pop(); ok {
			return payload, nil
		}
		select {
		case <-t.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closed:
			return nil, ErrClosed
		case <-t.done:
			// A response may have raced the close; prefer it.
			if payload, ok := t.pop(); ok {
				return payload, nil
			}
			return nil, ErrSessionClosed
		}
	}
}

// Await consumes the transaction: it waits for exactly one payload, then unregisters.
func (t *Transaction) Await(ctx context.Context) ([]byte, error) {
	defer t.Close()
	return t.Next(ctx)
}

// Close unregisters the transaction. Frames routed to its id afterwards are dropped.
// Close is idempotent.
func (t *Transaction) Close() {
	t.once.Do(func() {
		t.registry.remove(t.id)
		t.mu.Lock()
		close(t.closed)
		t.queue = nil
		t.mu.Unlock()
	})
}

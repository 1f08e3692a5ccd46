// Package registry tracks in-flight transactions and routes response frames to their callers.
//
// Every outbound call gets a unique transaction id. The caller keeps the Transaction and
// waits on it; the frame reader of whatever connection carried the call looks up the id
// and pushes the response payload into it:
//
//	caller-1 ──NewTransaction(256)──┐
//	caller-2 ──NewTransaction(257)──┼──→ one connection ──→ peer
//	caller-3 ──NewTransaction(258)──┘
//
//	reader:  ←── response(txid=257) → Route(257, payload) → caller-2 wakes up
//
// A Registry is an explicit object owned by a runtime root (client, server) rather than a
// process global, so independent runtimes can live side by side in one process.
package registry

import (
	"errors"
	"sync"

	"turbo-rpc/protocol"
)

var (
	// ErrClosed is returned when waiting on a transaction that was closed.
	ErrClosed = errors.New("registry: transaction closed")

	// ErrSessionClosed is returned when the session carrying a transaction went away
	// before a response arrived.
	ErrSessionClosed = errors.New("registry: session closed before response")
)

// Registry is the transaction table. It is safe for concurrent use.
//
// The lock is held only to allocate, look up or remove an id; no I/O and no handler
// logic ever runs under it.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*Transaction
}

// New creates an empty registry. Ids start at protocol.FirstTxID so low values stay
// available as control codes.
func New() *Registry {
	return &Registry{
		next:    protocol.FirstTxID,
		pending: make(map[uint64]*Transaction),
	}
}

// NewTransaction allocates the next id and registers a fresh mailbox under it.
//
// done, when non-nil, is the lifetime of the session the call travels on; once it is
// closed, waiting on the transaction fails with ErrSessionClosed instead of blocking forever.
func (r *Registry) NewTransaction(done <-chan struct{}) *Transaction {
	tx := &Transaction{
		registry: r,
		signal:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		done:     done,
	}

	r.mu.Lock()
	tx.id = r.next
	r.next++
	r.pending[tx.id] = tx
	r.mu.Unlock()

	return tx
}

// Route delivers payload to the transaction registered under txid.
// It reports false when no such transaction exists; that is an expected race (the caller
// gave up, timed out or unsubscribed), not an error.
func (r *Registry) Route(txid uint64, payload []byte) bool {
	r.mu.Lock()
	tx, ok := r.pending[txid]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return tx.push(payload)
}

// Pending returns the number of registered transactions.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) remove(txid uint64) {
	r.mu.Lock()
	delete(r.pending, txid)
	r.mu.Unlock()
}

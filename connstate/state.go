// Package connstate holds scratch values that live exactly as long as one connection.
//
// Values are keyed by (name, type) and created with their zero value on first access, so
// two handlers that agree on a name and a type share a value, while the same name used
// with a different type gets a separate slot.
//
// All handlers of one connection share one State and serialize on its lock. The lock is
// awaitable and may be held across suspension points, e.g. to read-modify-write a counter
// around a sub-call:
//
//	err := connstate.With(ctx, call.Conn.State, "visits", func(n *int) error {
//		*n++
//		return nil
//	})
package connstate

import (
	"context"
	"reflect"

	"golang.org/x/sync/semaphore"
)

type key struct {
	name string
	typ  reflect.Type
}

// State is the connection-local value map.
type State struct {
	sem    *semaphore.Weighted
	values map[key]any
}

// New creates an empty State.
func New() *State {
	return &State{
		sem:    semaphore.NewWeighted(1),
		values: make(map[key]any),
	}
}

// Locked is a held lock on a State. Values must only be accessed through it.
type Locked struct {
	state    *State
	released bool
}

// Lock waits for exclusive access to s, or fails with ctx's error.
func (s *State) Lock(ctx context.Context) (*Locked, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Locked{state: s}, nil
}

// Unlock releases the lock. Calling it more than once is a no-op.
func (l *Locked) Unlock() {
	if l.released {
		return
	}
	l.released = true
	l.state.sem.Release(1)
}

// Len reports how many values have been created so far.
func (l *Locked) Len() int {
	return len(l.state.values)
}

// Get returns the value stored under (name, T), creating it with T's zero value first.
// The pointer must not be used after l is unlocked.
func Get[T any](l *Locked, name string) *T {
	if l.released {
		panic("connstate: Get on released lock")
	}
	k := key{name: name, typ: reflect.TypeFor[T]()}
	if v, ok := l.state.values[k]; ok {
		return v.(*T)
	}
	v := new(T)
	l.state.values[k] = v
	return v
}

// With locks s, hands fn the value stored under (name, T) and unlocks when fn returns.
func With[T any](ctx context.Context, s *State, name string, fn func(v *T) error) error {
	l, err := s.Lock(ctx)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn(Get[T](l, name))
}

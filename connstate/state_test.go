package connstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetCreatesZeroValueOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		var got int
		require.NoError(t, With(ctx, s, "two_hundred", func(n *int) error {
			*n++
			got = *n
			return nil
		}))
		require.Equal(t, want, got)
	}
}

func TestKeyedByNameAndType(t *testing.T) {
	s := New()
	l, err := s.Lock(context.Background())
	require.NoError(t, err)
	defer l.Unlock()

	*Get[int](l, "counter") = 5
	*Get[string](l, "counter") = "five"
	*Get[int](l, "other") = 9

	require.Equal(t, 5, *Get[int](l, "counter"))
	require.Equal(t, "five", *Get[string](l, "counter"))
	require.Equal(t, 9, *Get[int](l, "other"))
	require.Equal(t, 3, l.Len())
}

func TestStatesAreIndependent(t *testing.T) {
	a, b := New(), New()
	ctx := context.Background()

	require.NoError(t, With(ctx, a, "n", func(n *int) error { *n = 42; return nil }))
	require.NoError(t, With(ctx, b, "n", func(n *int) error {
		require.Equal(t, 0, *n)
		return nil
	}))
}

func TestLockHeldAcrossSuspension(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Each worker reads, sleeps (a suspension point), then writes back. Without
	// exclusive access across the sleep, increments would be lost.
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = With(ctx, s, "n", func(n *int) error {
				v := *n
				time.Sleep(time.Millisecond)
				*n = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, With(ctx, s, "n", func(n *int) error {
		require.Equal(t, workers, *n)
		return nil
	}))
}

func TestLockRespectsContext(t *testing.T) {
	s := New()
	held, err := s.Lock(context.Background())
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlockIdempotent(t *testing.T) {
	s := New()
	l, err := s.Lock(context.Background())
	require.NoError(t, err)
	l.Unlock()
	l.Unlock()

	l2, err := s.Lock(context.Background())
	require.NoError(t, err)
	l2.Unlock()

	require.Panics(t, func() { Get[int](l, "x") })
}

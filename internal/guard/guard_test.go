package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_SameKeySerializes(t *testing.T) {
	g := New()
	const workers = 20

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Lock(context.Background(), "workflow/event:1")
			require.NoError(t, err)
			defer release()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, g.Len(), "entries are collected once uncontended")
}

func TestKeyed_DifferentKeysDoNotBlock(t *testing.T) {
	g := New()
	releaseA, err := g.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := g.Lock(ctx, "b")
	require.NoError(t, err)
	releaseB()

	assert.Equal(t, 1, g.Len())
}

func TestKeyed_CancelWhileWaiting(t *testing.T) {
	g := New()
	release, err := g.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Equal(t, 0, g.Len(), "a canceled waiter leaves no entry behind")
}

func TestKeyed_ReleaseIsIdempotent(t *testing.T) {
	g := New()
	release, err := g.Lock(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, ok := g.TryLock("k")
	require.True(t, ok)
	again()
}

func TestKeyed_TryLock(t *testing.T) {
	var g Keyed
	release, ok := g.TryLock("k")
	require.True(t, ok)

	_, ok = g.TryLock("k")
	assert.False(t, ok)

	release()
	assert.Equal(t, 0, g.Len())
}

func TestKeyed_WaiterAcquiresAfterRelease(t *testing.T) {
	g := New()
	release, err := g.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := g.Lock(context.Background(), "k")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

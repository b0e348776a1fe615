// Package guard serializes reconciliation passes per logical resource.
//
// A Keyed guard holds one lock per key (for example "workflowInstance/event:42").
// Passes over different keys never wait on each other; passes over the same
// key run one at a time, so two concurrent requests cannot both decide to
// create the same singleton row.
//
// Lock entries exist only while someone holds or waits for them, so the map
// does not grow with the number of resources ever touched.
package guard

import (
	"context"
	"sync"
)

// Keyed is a map of lazily created, reference-counted locks.
// The zero value is ready to use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	// sem is a one-slot semaphore; holding the slot means holding the lock.
	sem  chan struct{}
	refs int
}

// New returns an empty Keyed guard.
func New() *Keyed {
	return &Keyed{}
}

// Lock blocks until the lock for key is held or ctx is done.
//
// On success it returns a release function, which is safe to call more than
// once. On cancellation it returns ctx.Err() and holds nothing.
func (k *Keyed) Lock(ctx context.Context, key string) (release func(), err error) {
	e := k.acquireEntry(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.releaseEntry(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.releaseEntry(key, e)
		})
	}, nil
}

// TryLock acquires the lock for key only if it is free right now.
func (k *Keyed) TryLock(key string) (release func(), ok bool) {
	e := k.acquireEntry(key)
	select {
	case e.sem <- struct{}{}:
	default:
		k.releaseEntry(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.releaseEntry(key, e)
		})
	}, true
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *Keyed) acquireEntry(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) releaseEntry(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

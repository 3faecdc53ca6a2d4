/*
Package lock serializes read-modify-write cycles per key.

PURPOSE:
  Two operations on the same installment must never interleave their
  read and write. Locks are keyed ("parcela:<id>"), so operations on
  different installments never wait for each other.

IMPLEMENTATIONS:
  Keyed: In-process, one server. Entries are reference counted and
         dropped once nobody holds or waits for them.
  Redis: Across processes. SET NX PX with a random token; release only
         deletes the key if it still holds our token, so a lock that
         expired and was taken by someone else is left alone.

Both honour ctx: a caller waiting for a lock gives up when ctx is done.
*/
package lock

import (
	"context"
	"sync"
)

// Keyed is an in-process lock per key.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

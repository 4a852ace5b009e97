package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long Acquire waits.
const DefaultLockTimeout = 2 * time.Second

// KeyedLock is a set of per-id mutexes created on demand.
//
// Each id maps to a one-slot channel; holding the lock means owning the slot.
// Blocked senders on a channel are served in arrival order, so waiters for
// one id acquire it FIFO. Entries are reference counted and dropped when the
// last holder or waiter leaves.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	timeout time.Duration
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

// NewKeyedLock creates a lock set. timeout <= 0 uses DefaultLockTimeout.
func NewKeyedLock(timeout time.Duration) *KeyedLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &KeyedLock{entries: make(map[string]*lockEntry), timeout: timeout}
}

// Acquire blocks until the lock for id is held, the timeout elapses or ctx is
// done. The returned release func is safe to call more than once.
func (l *KeyedLock) Acquire(ctx context.Context, id string) (func(), error) {
	e := l.ref(id)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
	case <-timer.C:
		l.unref(id, e)
		return nil, fmt.Errorf("%w: %q after %s", ErrLockTimeout, id, l.timeout)
	case <-ctx.Done():
		l.unref(id, e)
		return nil, fmt.Errorf("%w: %q: %w", ErrLockTimeout, id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.unref(id, e)
		})
	}, nil
}

// Len returns the number of ids with a holder or waiter.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLock) ref(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *KeyedLock) unref(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

package engine

import (
	"context"
	"sync"
)

// keyedLock is a set of context-aware mutexes keyed by budget ID.
// Each key is a one-slot channel; holding the slot holds the lock. A slot
// is dropped once no holder or waiter references it.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]*lockSlot)}
}

func (l *keyedLock) acquire(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *keyedLock) release(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *keyedLock) unlocker(key string, s *lockSlot) func() {
	return func() {
		<-s.ch
		l.release(key, s)
	}
}

// lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (l *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

// tryLock takes key only if it is free.
func (l *keyedLock) tryLock(key string) (func(), bool) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), true
	default:
		l.release(key, s)
		return nil, false
	}
}

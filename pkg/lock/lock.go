// Package lock serializes work on a natural key. The executor holds a lock
// around match-then-write so two workers never create the same entity.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired before the wait timeout.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or was taken over.
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker acquires exclusive locks on keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	held, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer held.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once nobody holds or waits for the key.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyEntry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Lock, error) {
	start := time.Now()

	m.mu.Lock()
	entry, ok := m.keys[key]
	if !ok {
		entry = &keyEntry{ch: make(chan struct{}, 1)}
		m.keys[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		metrics.LockWaitTime.Observe(time.Since(start).Seconds())
		return &keyedLock{m: m, key: key, entry: entry}, nil
	case <-ctx.Done():
		m.drop(key, entry)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) drop(key string, entry *keyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.keys, key)
	}
}

// Len is the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

type keyedLock struct {
	m        *KeyedMutex
	key      string
	entry    *keyEntry
	released sync.Once
}

func (l *keyedLock) Release(_ context.Context) error {
	err := ErrLockNotHeld
	l.released.Do(func() {
		<-l.entry.ch
		l.m.drop(l.key, l.entry)
		err = nil
	})
	return err
}

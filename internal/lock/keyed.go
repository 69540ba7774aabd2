package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// KeyedMutex is an in-process Locker. Two different keys never contend.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	timeout time.Duration
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates a keyed mutex. A zero timeout waits until ctx is done.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*keyedEntry),
		timeout: timeout,
	}
}

// Lock blocks until key is free, ctx is done or the timeout elapses
func (m *KeyedMutex) Lock(ctx context.Context, key string) (*Releaser, error) {
	e := m.ref(key)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
		return NewReleaser(key, func() {
			<-e.sem
			m.unref(key, e)
		}), nil
	case <-ctx.Done():
		m.unref(key, e)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or waited on
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *KeyedMutex) ref(key string) *keyedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) unref(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

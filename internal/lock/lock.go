// Package lock provides per-asset exclusive locks.
//
// Every lock hands out a Releaser: a capability that ends exclusive access
// for exactly one key. Ownership of a Releaser may be shared between the
// code that acquired it and the encoding engine, which lets go of the input
// as soon as it has finished reading, so releasing is idempotent.
package lock

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrTimeout is returned when exclusive access could not be obtained in time
var ErrTimeout = errors.New("timed out waiting for exclusive lock")

// Locker grants exclusive access keyed by asset identifier
type Locker interface {
	Lock(ctx context.Context, key string) (*Releaser, error)
}

// Releaser ends exclusive access for one key. Only the first call to
// Release has an effect.
type Releaser struct {
	key      string
	released atomic.Bool
	release  func()
}

// NewReleaser wraps release so it runs at most once
func NewReleaser(key string, release func()) *Releaser {
	return &Releaser{key: key, release: release}
}

// Release ends exclusive access. It is safe to call more than once and
// from several goroutines.
func (r *Releaser) Release() {
	if r == nil {
		return
	}
	if r.released.CompareAndSwap(false, true) && r.release != nil {
		r.release()
	}
}

// Released reports whether Release has been called
func (r *Releaser) Released() bool {
	if r == nil {
		return true
	}
	return r.released.Load()
}

// Key returns the key this releaser was issued for
func (r *Releaser) Key() string {
	if r == nil {
		return ""
	}
	return r.key
}

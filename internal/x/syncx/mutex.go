package syncx

import (
	"context"
	"sync"
)

// Mutex is a context-aware mutual exclusion lock.
//
// The zero-value is an unlocked mutex.
type Mutex struct {
	once  sync.Once
	guard chan struct{} // buffered guard, write = lock, read = unlock
}

// Lock acquires an exclusive lock on the mutex.
//
// It blocks until the mutex is acquired, or ctx is canceled.
func (m *Mutex) Lock(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.init()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.guard <- struct{}{}:
		return nil
	}
}

// TryLock acquires the lock if it is not already held.
//
// It returns false if the mutex is locked by another caller.
func (m *Mutex) TryLock() bool {
	m.init()

	select {
	case m.guard <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex.
//
// It panics if the mutex is not locked.
func (m *Mutex) Unlock() {
	m.init()

	select {
	case <-m.guard:
	default:
		panic("mutex is not locked")
	}
}

func (m *Mutex) init() {
	m.once.Do(func() {
		m.guard = make(chan struct{}, 1)
	})
}

package syncx

import (
	"context"
	"sync"
)

// UnlockFunc is a function used to unlock a previously locked mutex.
type UnlockFunc func()

// MutexNamespace is a set of context-aware mutexes keyed by values of type K.
//
// Mutexes are created on demand and discarded once there are no callers
// holding or waiting for them.
type MutexNamespace[K comparable] struct {
	m       sync.Mutex
	mutexes map[K]*keyedMutex
}

type keyedMutex struct {
	Mutex
	lockers int // pending or successful Lock() calls, guarded by the namespace
}

// Lock acquires an exclusive lock on the mutex for k.
//
// It returns an unlock function which must be called to unlock the mutex. It
// blocks until the mutex is acquired or ctx is canceled.
func (ns *MutexNamespace[K]) Lock(ctx context.Context, k K) (UnlockFunc, error) {
	m := ns.acquire(k)

	if err := m.Lock(ctx); err != nil {
		ns.release(k, m)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.Unlock()
			ns.release(k, m)
		})
	}, nil
}

// Len returns the number of mutexes that are held or waited upon.
func (ns *MutexNamespace[K]) Len() int {
	ns.m.Lock()
	defer ns.m.Unlock()

	return len(ns.mutexes)
}

func (ns *MutexNamespace[K]) acquire(k K) *keyedMutex {
	ns.m.Lock()
	defer ns.m.Unlock()

	if ns.mutexes == nil {
		ns.mutexes = map[K]*keyedMutex{}
	}

	m, ok := ns.mutexes[k]
	if !ok {
		m = &keyedMutex{}
		ns.mutexes[k] = m
	}

	m.lockers++

	return m
}

func (ns *MutexNamespace[K]) release(k K, m *keyedMutex) {
	ns.m.Lock()
	defer ns.m.Unlock()

	m.lockers--

	if m.lockers == 0 {
		delete(ns.mutexes, k)
	}
}

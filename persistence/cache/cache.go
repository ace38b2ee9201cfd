// Package cache provides a HandleMap that keeps recently used values in
// memory.
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/procman/procman/persistence"
)

// DefaultSize is the default number of values kept in a Map.
const DefaultSize = 1000

// Map is a persistence.HandleMap that caches the values of another map.
//
// Only committed values are cached. While any transaction has an uncommitted
// write to a handle, reads of that handle bypass the cache. A commit replaces
// the cached value, and a rollback evicts it.
type Map[V any] struct {
	next  persistence.HandleMap[V]
	clone func(V) V

	m       sync.Mutex
	values  *lru.Cache[persistence.Handle, V]
	pending map[persistence.Handle]int
	epoch   uint64
}

var _ persistence.HandleMap[any] = (*Map[any])(nil)

// New returns a map that caches up to size values from next.
//
// clone is used to copy values into and out of the cache so that callers can
// not modify cached values. It may be nil if values are never modified after
// they are stored. If size is non-positive, DefaultSize is used.
func New[V any](
	next persistence.HandleMap[V],
	size int,
	clone func(V) V,
) *Map[V] {
	if size <= 0 {
		size = DefaultSize
	}

	values, err := lru.New[persistence.Handle, V](size)
	if err != nil {
		// lru.New() only fails if the size is non-positive.
		panic(err)
	}

	if clone == nil {
		clone = func(v V) V { return v }
	}

	return &Map[V]{
		next:    next,
		clone:   clone,
		values:  values,
		pending: map[persistence.Handle]int{},
	}
}

// Put stores v and returns its newly assigned handle.
func (m *Map[V]) Put(ctx context.Context, tx persistence.Transaction, v V) (persistence.Handle, error) {
	h, err := m.next.Put(ctx, tx, v)
	if err != nil {
		return 0, err
	}

	m.track(tx, h, m.clone(v), true)

	return h, nil
}

// Get returns the value stored at h.
func (m *Map[V]) Get(ctx context.Context, tx persistence.Transaction, h persistence.Handle) (V, bool, error) {
	m.m.Lock()
	cached, hit := m.values.Get(h)
	bypass := m.pending[h] > 0
	epoch := m.epoch
	m.m.Unlock()

	if hit && !bypass {
		return m.clone(cached), true, nil
	}

	v, ok, err := m.next.Get(ctx, tx, h)
	if !ok || err != nil || bypass {
		return v, ok, err
	}

	m.m.Lock()
	defer m.m.Unlock()

	// Only populate the cache if nothing has been written or invalidated since
	// the value was loaded.
	if m.epoch == epoch && m.pending[h] == 0 {
		m.values.Add(h, m.clone(v))
	}

	return v, true, nil
}

// Set replaces the value stored at h.
func (m *Map[V]) Set(ctx context.Context, tx persistence.Transaction, h persistence.Handle, v V) error {
	if err := m.next.Set(ctx, tx, h, v); err != nil {
		return err
	}

	m.track(tx, h, m.clone(v), true)

	return nil
}

// Remove removes the value stored at h.
func (m *Map[V]) Remove(ctx context.Context, tx persistence.Transaction, h persistence.Handle) (bool, error) {
	ok, err := m.next.Remove(ctx, tx, h)
	if !ok || err != nil {
		return ok, err
	}

	var zero V
	m.track(tx, h, zero, false)

	return true, nil
}

// Contains returns true if there is a value stored at h.
func (m *Map[V]) Contains(ctx context.Context, tx persistence.Transaction, h persistence.Handle) (bool, error) {
	m.m.Lock()
	hit := m.pending[h] == 0 && m.values.Contains(h)
	m.m.Unlock()

	if hit {
		return true, nil
	}

	return m.next.Contains(ctx, tx, h)
}

// Iterate returns an iterator over all values in the map.
//
// Iteration always reads from the underlying map.
func (m *Map[V]) Iterate(ctx context.Context, tx persistence.Transaction) (persistence.Iterator[V], error) {
	return m.next.Iterate(ctx, tx)
}

// InvalidateCache discards any cached copy of the value stored at h.
func (m *Map[V]) InvalidateCache(h persistence.Handle) {
	m.m.Lock()
	m.values.Remove(h)
	m.epoch++
	m.m.Unlock()

	m.next.InvalidateCache(h)
}

// InvalidateAll discards all cached values.
func (m *Map[V]) InvalidateAll() {
	m.m.Lock()
	m.values.Purge()
	m.epoch++
	m.m.Unlock()

	m.next.InvalidateAll()
}

// Len returns the number of values currently cached.
func (m *Map[V]) Len() int {
	m.m.Lock()
	defer m.m.Unlock()

	return m.values.Len()
}

// track records an uncommitted write to h made by tx.
//
// If keep is true, v is cached once the write is committed. Otherwise, h is
// evicted.
func (m *Map[V]) track(tx persistence.Transaction, h persistence.Handle, v V, keep bool) {
	m.m.Lock()
	m.pending[h]++
	m.m.Unlock()

	tx.OnCommit(func() {
		m.settle(h, func() {
			if keep {
				m.values.Add(h, v)
			} else {
				m.values.Remove(h)
			}
		})
	})

	tx.OnRollback(func() {
		m.settle(h, func() {
			m.values.Remove(h)
		})
	})
}

// settle completes a write to h that was recorded by track().
func (m *Map[V]) settle(h persistence.Handle, fn func()) {
	m.m.Lock()
	defer m.m.Unlock()

	if n := m.pending[h] - 1; n > 0 {
		m.pending[h] = n
	} else {
		delete(m.pending, h)
	}

	m.epoch++
	fn()
}

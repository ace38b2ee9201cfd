package instance

import (
	"sync/atomic"

	"github.com/procman/procman/internal/x/syncx"
	"github.com/procman/procman/model"
	"github.com/procman/procman/persistence"
)

// Record is an entry in the cache.
type Record struct {
	handle persistence.Handle
	cache  *Cache

	m     syncx.Mutex
	state state
	keep  bool
	stale atomic.Bool

	// Instance and Model are nil until loaded by the holder of the record.
	// They are protected by the record's lock.
	Instance *ProcessInstance
	Model    *model.Model
}

// Handle returns the handle of the instance that the record holds.
func (r *Record) Handle() persistence.Handle {
	return r.handle
}

// KeepAlive resets the TTL for this record, and instructs the cache to keep
// this record when it is released.
//
// It must be called each time the record is acquired, otherwise the record is
// removed when it is released.
//
// If KeepAlive() is NOT called, the assumption is that r.Instance was modified
// by an operation that did not commit, and hence the record is now
// out-of-date.
func (r *Record) KeepAlive() {
	r.keep = true
	r.state = active
}

// Release unlocks this record, allowing the instance to be acquired by other
// callers.
//
// If KeepAlive() has not been called since the record was acquired, the record
// is removed from the cache.
func (r *Record) Release() {
	if r.keep {
		r.keep = false // for the next acquirer
	} else {
		r.remove()
	}

	r.cache.Metrics.Locked(-1)
	r.m.Unlock()
}

// remove removes r from the cache.
func (r *Record) remove() {
	r.state = removed
	r.cache.records.Delete(r.handle)
}

// evict marks the record for eviction (idle), or actually evicts it if it's
// already marked.
func (r *Record) evict() {
	if !r.m.TryLock() {
		return
	}
	defer r.m.Unlock()

	switch r.state {
	case active:
		// Mark the record as idle, if it's still idle on the next
		// tick we'll remove it.
		r.state = idle
	case idle:
		// It's still idle, meaning it hasn't been acquired since
		// the last tick.
		r.remove()
	}
}

// state is an enumeration that describes the records state in the cache.
type state int

const (
	active  state = iota // the record is in the cache, it may be locked or unlocked
	idle                 // the record has been marked for eviction on the next cycle
	removed              // the record has been removed from the cache, and is invalid
)

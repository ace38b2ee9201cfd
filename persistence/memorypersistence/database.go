package memorypersistence

import (
	"sort"
	"sync"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
)

// database is an in-memory collection of tables.
type database struct {
	mutex  sync.RWMutex
	open   bool
	next   persistence.Handle
	tables map[string]map[persistence.Handle]marshalkit.Packet
}

// TryOpen marks the database as open. It returns false if it is already open.
func (db *database) TryOpen() bool {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.open {
		return false
	}

	db.open = true
	return true
}

// Close marks the database as closed.
func (db *database) Close() {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.open = false
}

// nextHandle allocates a new handle.
func (db *database) nextHandle() persistence.Handle {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.next++
	return db.next
}

// load returns the row with handle h in the given table.
func (db *database) load(table string, h persistence.Handle) (marshalkit.Packet, bool) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	p, ok := db.tables[table][h]
	return clonePacket(p), ok
}

// handles returns the sorted handles of all rows in the given table.
func (db *database) handles(table string) []persistence.Handle {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	var handles []persistence.Handle
	for h := range db.tables[table] {
		handles = append(handles, h)
	}

	sort.Slice(handles, func(i, j int) bool {
		return handles[i] < handles[j]
	})

	return handles
}

// clonePacket returns a deep copy of p, so that callers can never modify the
// data stored in the database.
func clonePacket(p marshalkit.Packet) marshalkit.Packet {
	if p.Data != nil {
		p.Data = append([]byte(nil), p.Data...)
	}

	return p
}

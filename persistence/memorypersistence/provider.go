package memorypersistence

import (
	"context"
	"sync"

	"github.com/procman/procman/persistence"
)

// Provider is an implementation of persistence.Provider that stores data in
// memory.
type Provider struct {
	m         sync.Mutex
	databases map[string]*database
}

// Open returns a data-store with the given name.
//
// Data stores are opened for exclusive use. If the data-store is already open,
// ErrDataStoreLocked is returned. Data persists in memory after the data-store
// is closed and is visible to the next caller that opens it.
func (p *Provider) Open(_ context.Context, name string) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.databases == nil {
		p.databases = map[string]*database{}
	}

	db, ok := p.databases[name]

	if !ok {
		db = &database{}
		p.databases[name] = db
	}

	if db.TryOpen() {
		return &dataStore{db: db}, nil
	}

	return nil, persistence.ErrDataStoreLocked
}

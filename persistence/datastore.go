package persistence

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// TransactionFactory produces transactions.
type TransactionFactory interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context) (Transaction, error)
}

// DataStore is an interface used by the engine to persist and retrieve data.
type DataStore interface {
	TransactionFactory

	// Close closes the data store.
	//
	// Closing a data-store prevents any writes to the data-store. Specifically,
	// DataStore.Begin() and Transaction.Commit() will return ErrDataStoreClosed
	// if the transaction's underlying data-store has been closed.
	//
	// The behavior of any other persistence operation on a closed data-store is
	// undefined.
	Close() error
}

// DataStoreSet is a collection of named data-stores opened from a single
// provider.
type DataStoreSet struct {
	Provider Provider

	m      sync.Mutex
	stores map[string]DataStore
}

// Get returns the data store with the given name.
//
// If the set already contains a data-store with that name it is returned.
// Otherwise it is opened and added to the set. The caller is NOT responsible
// for closing the data store.
func (s *DataStoreSet) Get(ctx context.Context, name string) (DataStore, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if ds, ok := s.stores[name]; ok {
		return ds, nil
	}

	ds, err := s.Provider.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	if s.stores == nil {
		s.stores = map[string]DataStore{}
	}

	s.stores[name] = ds

	return ds, nil
}

// Close closes all datastores in the set.
func (s *DataStoreSet) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	stores := s.stores
	s.stores = nil

	var err error
	for _, ds := range stores {
		err = multierr.Append(
			err,
			ds.Close(),
		)
	}

	return err
}

package persistence

import "context"

// Provider is an interface used by the engine to open data-stores.
type Provider interface {
	// Open returns a data-store with the given name.
	//
	// Data stores are opened for exclusive use. If another engine instance has
	// already opened this data-store, ErrDataStoreLocked is returned.
	Open(ctx context.Context, name string) (DataStore, error)
}

package memorypersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
)

// dataStore is an implementation of persistence.DataStore that stores data in
// memory.
type dataStore struct {
	m      sync.RWMutex
	db     *database
	closed bool
}

// Begin starts a new transaction.
func (ds *dataStore) Begin(ctx context.Context) (persistence.Transaction, error) {
	if err := ds.check(ctx); err != nil {
		return nil, err
	}

	return persistence.NewTransaction(ds), nil
}

// Close closes the data store.
func (ds *dataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.closed {
		return persistence.ErrDataStoreClosed
	}

	ds.closed = true
	ds.db.Close()

	return nil
}

// NextHandle allocates a new handle.
func (ds *dataStore) NextHandle(ctx context.Context) (persistence.Handle, error) {
	if err := ds.check(ctx); err != nil {
		return 0, err
	}

	return ds.db.nextHandle(), nil
}

// LoadRow loads the committed content of a row.
func (ds *dataStore) LoadRow(
	ctx context.Context,
	table string,
	h persistence.Handle,
) (marshalkit.Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return marshalkit.Packet{}, false, err
	}

	p, ok := ds.db.load(table, h)
	return p, ok, nil
}

// ScanRows returns a cursor over the committed rows in a table.
//
// The cursor observes rows as they exist when Next() is called, rather than
// a snapshot taken when the cursor is opened.
func (ds *dataStore) ScanRows(ctx context.Context, table string) (persistence.RowCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &cursor{
		db:      ds.db,
		table:   table,
		handles: ds.db.handles(table),
	}, nil
}

// Persist commits a batch of operations atomically.
//
// The batch is first checked by the validator, and only applied by the
// committer if every operation is valid.
func (ds *dataStore) Persist(ctx context.Context, b persistence.Batch) error {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.closed {
		return persistence.ErrDataStoreClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ds.db.mutex.Lock()
	defer ds.db.mutex.Unlock()

	if err := b.AcceptVisitor(ctx, &validator{ds.db}); err != nil {
		return err
	}

	return b.AcceptVisitor(ctx, &committer{ds.db})
}

// check returns an error if the data-store is closed or ctx is done.
func (ds *dataStore) check(ctx context.Context) error {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.closed {
		return persistence.ErrDataStoreClosed
	}

	return ctx.Err()
}

// cursor is an implementation of persistence.RowCursor that iterates over the
// rows of an in-memory table.
type cursor struct {
	db      *database
	table   string
	handles []persistence.Handle
}

func (c *cursor) Next(ctx context.Context) (persistence.Handle, marshalkit.Packet, bool, error) {
	for len(c.handles) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, marshalkit.Packet{}, false, err
		}

		h := c.handles[0]
		c.handles = c.handles[1:]

		// Skip rows that have been removed since the cursor was opened.
		if p, ok := c.db.load(c.table, h); ok {
			return h, p, true, nil
		}
	}

	return 0, marshalkit.Packet{}, false, nil
}

func (c *cursor) Close() error {
	c.handles = nil
	return nil
}

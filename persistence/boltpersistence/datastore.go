package boltpersistence

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/internal/x/bboltx"
	"github.com/procman/procman/persistence"
	"go.etcd.io/bbolt"
)

var (
	// tablesBucketKey is the key of the bucket, within the data-store's root
	// bucket, that contains one bucket per table.
	//
	// Within each table bucket the keys are 8-byte big-endian handles and the
	// values are rows encoded by marshalRow().
	tablesBucketKey = []byte("tables")

	// sequenceBucketKey is the key of the bucket whose sequence is used to
	// allocate handles.
	sequenceBucketKey = []byte("handles")
)

// dataStore is an implementation of persistence.DataStore for BoltDB.
type dataStore struct {
	db   *bbolt.DB
	name []byte

	m       sync.RWMutex
	release func(string) error
}

// Begin starts a new transaction.
func (ds *dataStore) Begin(ctx context.Context) (persistence.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return nil, persistence.ErrDataStoreClosed
	}

	return persistence.NewTransaction(ds), nil
}

// NextHandle allocates a new handle.
//
// Each allocation is committed in its own BoltDB transaction so that handles
// are never reused, even if the transaction that allocated them is
// rolled-back.
func (ds *dataStore) NextHandle(ctx context.Context) (_ persistence.Handle, err error) {
	defer bboltx.Recover(&err)

	db, err := ds.database(ctx)
	if err != nil {
		return 0, err
	}

	var h persistence.Handle

	bboltx.Update(
		db,
		func(tx *bbolt.Tx) {
			b := bboltx.CreateBucketIfNotExists(tx, ds.name, sequenceBucketKey)
			h = persistence.Handle(bboltx.NextSequence(b))
		},
	)

	return h, nil
}

// LoadRow loads the committed content of a row.
func (ds *dataStore) LoadRow(
	ctx context.Context,
	table string,
	h persistence.Handle,
) (_ marshalkit.Packet, _ bool, err error) {
	defer bboltx.Recover(&err)

	db, err := ds.database(ctx)
	if err != nil {
		return marshalkit.Packet{}, false, err
	}

	var (
		p  marshalkit.Packet
		ok bool
	)

	bboltx.View(
		db,
		func(tx *bbolt.Tx) {
			if b := bboltx.Bucket(tx, ds.name, tablesBucketKey, []byte(table)); b != nil {
				if data := b.Get(marshalHandle(h)); data != nil {
					p = unmarshalRow(data)
					ok = true
				}
			}
		},
	)

	return p, ok, nil
}

// ScanRows returns a cursor over the committed rows in a table.
//
// The cursor holds a read-only BoltDB transaction open until it is closed.
func (ds *dataStore) ScanRows(ctx context.Context, table string) (_ persistence.RowCursor, err error) {
	defer bboltx.Recover(&err)

	db, err := ds.database(ctx)
	if err != nil {
		return nil, err
	}

	tx := bboltx.BeginRead(db)
	c := &cursor{tx: tx}

	if b := bboltx.Bucket(tx, ds.name, tablesBucketKey, []byte(table)); b != nil {
		c.cursor = b.Cursor()
	}

	return c, nil
}

// Persist commits a batch of operations atomically.
//
// If any one of the operations can not be applied the entire batch is aborted.
func (ds *dataStore) Persist(ctx context.Context, b persistence.Batch) (err error) {
	defer bboltx.Recover(&err)

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	bboltx.Update(
		ds.db,
		func(tx *bbolt.Tx) {
			c := &committer{
				root: bboltx.CreateBucketIfNotExists(tx, ds.name, tablesBucketKey),
			}
			bboltx.Must(b.AcceptVisitor(ctx, c))
		},
	)

	return nil
}

// Close closes the data store.
//
// Closing a data-store causes any future calls to Begin() or Persist() to
// return ErrDataStoreClosed.
func (ds *dataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	r := ds.release
	ds.release = nil

	return r(string(ds.name))
}

// database returns the underlying BoltDB database, or an error if the
// data-store is closed.
func (ds *dataStore) database(ctx context.Context) (*bbolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return nil, persistence.ErrDataStoreClosed
	}

	return ds.db, nil
}

// cursor is an implementation of persistence.RowCursor for BoltDB.
type cursor struct {
	tx      *bbolt.Tx
	cursor  *bbolt.Cursor
	started bool
}

func (c *cursor) Next(ctx context.Context) (_ persistence.Handle, _ marshalkit.Packet, _ bool, err error) {
	defer bboltx.Recover(&err)

	if err := ctx.Err(); err != nil {
		return 0, marshalkit.Packet{}, false, err
	}

	if c.cursor == nil {
		return 0, marshalkit.Packet{}, false, nil
	}

	var k, v []byte
	if c.started {
		k, v = c.cursor.Next()
	} else {
		k, v = c.cursor.First()
		c.started = true
	}

	if k == nil {
		return 0, marshalkit.Packet{}, false, nil
	}

	return unmarshalHandle(k), unmarshalRow(v), true, nil
}

func (c *cursor) Close() error {
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	c.cursor = nil

	return tx.Rollback()
}

// marshalHandle returns the binary representation of a handle, as used for
// keys within table buckets.
func marshalHandle(h persistence.Handle) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(h))
	return data[:]
}

// unmarshalHandle returns the handle represented by a table bucket key.
func unmarshalHandle(data []byte) persistence.Handle {
	return persistence.Handle(binary.BigEndian.Uint64(data))
}

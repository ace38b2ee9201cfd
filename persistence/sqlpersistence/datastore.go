package sqlpersistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
	"go.uber.org/multierr"
)

// dataStore is an implementation of persistence.DataStore for SQL databases.
type dataStore struct {
	db      *sql.DB
	driver  Driver
	name    string
	lockID  int64
	lockTTL time.Duration

	closeM     sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeCause error
	release    func() error
}

// newDataStore returns a new data-store.
func newDataStore(
	db *sql.DB,
	d Driver,
	name string,
	lockID int64,
	lockTTL time.Duration,
	r func() error,
) *dataStore {
	ctx, cancel := context.WithCancel(context.Background())

	ds := &dataStore{
		db:      db,
		driver:  d,
		name:    name,
		lockID:  lockID,
		lockTTL: lockTTL,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		release: r,
	}

	go ds.maintainLock()

	return ds
}

// Begin starts a new transaction.
func (ds *dataStore) Begin(ctx context.Context) (persistence.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-ds.done:
		return nil, ds.closeCause
	default:
		return persistence.NewTransaction(ds), nil
	}
}

// NextHandle allocates a new handle.
func (ds *dataStore) NextHandle(ctx context.Context) (h persistence.Handle, err error) {
	return h, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			h, err = ds.driver.NextHandle(ctx, db, ds.name)
			return err
		},
	)
}

// LoadRow loads the committed content of a row.
func (ds *dataStore) LoadRow(
	ctx context.Context,
	table string,
	h persistence.Handle,
) (p marshalkit.Packet, ok bool, err error) {
	return p, ok, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			p, ok, err = ds.driver.SelectRow(ctx, db, ds.name, table, h)
			return err
		},
	)
}

// ScanRows returns a cursor over the committed rows in a table.
//
// The cursor reads the table a page at a time, so no connection is held open
// while the caller iterates. Rows committed while the cursor is open are
// visible to it if their handles have not yet been reached.
func (ds *dataStore) ScanRows(ctx context.Context, table string) (persistence.RowCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-ds.done:
		return nil, ds.closeCause
	default:
		return &cursor{ds: ds, table: table}, nil
	}
}

// Persist commits a batch of operations atomically.
//
// If any one of the operations can not be applied the entire batch is aborted
// and a ConflictError or NotFoundError is returned.
func (ds *dataStore) Persist(
	ctx context.Context,
	b persistence.Batch,
) error {
	b.MustValidate()

	return ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			tx, err := ds.driver.Begin(ctx, db)
			if err != nil {
				return err
			}
			defer tx.Rollback() // nolint:errcheck

			c := &committer{
				tx:     tx,
				driver: ds.driver,
				name:   ds.name,
			}

			if err := b.AcceptVisitor(ctx, c); err != nil {
				return err
			}

			return tx.Commit()
		},
	)
}

// Close closes the data store.
//
// Closing a data-store causes any future calls to Begin() or Persist() to
// return ErrDataStoreClosed.
func (ds *dataStore) Close() error {
	ds.closeM.Lock()
	defer ds.closeM.Unlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	ds.cancel()
	<-ds.done

	// Forcefully release the current lock, allowing up to the lockTTL period to
	// do so. Any longer and the lock will expire anyway.
	ctx, cancel := context.WithTimeout(context.Background(), ds.lockTTL)
	defer cancel()

	// Release the lock *before* ds.release() is called, as it may close the DB.
	err := ds.driver.ReleaseLock(ctx, ds.db, ds.lockID)

	r := ds.release
	ds.release = nil

	return multierr.Append(
		err,
		r(),
	)
}

// withDB calls fn with the database that should be used by this data-store.
//
// It returns an error if the data-store is already closed. The context passed
// to fn is canceled if the data-store is closed during execution.
func (ds *dataStore) withDB(
	ctx context.Context,
	fn func(ctx context.Context, db *sql.DB) error,
) error {
	// First, we check if the data-store has already been closed.
	select {
	case <-ds.done:
		return ds.closeCause
	default:
	}

	// Create a new context that inherits from the provided context, and wire it
	// up to be canceled when the data store is closed.
	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ds.done:
			cancel()
		case <-fnCtx.Done():
		}
	}()

	err := fn(fnCtx, ds.db)

	// If the error was a context cancelation but the provided context was NOT
	// canceled AND the data-store was closed, then we assume that it was the
	// data-store closing that triggered the error and report the cause of the
	// closure.
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		select {
		case <-ds.done:
			return ds.closeCause
		default:
		}
	}

	return err
}

// maintainLock periodically renews the data-store's lock. If the lock can not
// be renewed the data-store is closed.
func (ds *dataStore) maintainLock() {
	defer close(ds.done)
	defer ds.cancel()

	for {
		if err := linger.Sleep(ds.ctx, ds.lockTTL/2); err != nil {
			ds.closeCause = persistence.ErrDataStoreClosed
			return
		}

		ok, err := ds.driver.RenewLock(
			ds.ctx,
			ds.db,
			ds.lockID,
			ds.lockTTL,
		)

		if errors.Is(err, context.Canceled) {
			ds.closeCause = persistence.ErrDataStoreClosed
			return
		}

		if err != nil {
			ds.closeCause = fmt.Errorf("unable to renew data-store lock: %w", err)
			return
		}

		if !ok {
			ds.closeCause = errors.New("unable to renew expired data-store lock")
			return
		}
	}
}

// scanPageSize is the number of rows read by each query made by a cursor.
const scanPageSize = 100

// row is a row read by a cursor.
type row struct {
	handle persistence.Handle
	packet marshalkit.Packet
}

// cursor is an implementation of persistence.RowCursor that reads the rows of
// a table one page at a time.
type cursor struct {
	ds    *dataStore
	table string
	after persistence.Handle
	page  []row
	done  bool
}

func (c *cursor) Next(ctx context.Context) (persistence.Handle, marshalkit.Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, marshalkit.Packet{}, false, err
	}

	if len(c.page) == 0 && !c.done {
		if err := c.load(ctx); err != nil {
			return 0, marshalkit.Packet{}, false, err
		}
	}

	if len(c.page) == 0 {
		return 0, marshalkit.Packet{}, false, nil
	}

	r := c.page[0]
	c.page = c.page[1:]

	return r.handle, r.packet, true, nil
}

// load reads the next page of rows.
func (c *cursor) load(ctx context.Context) error {
	return c.ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			rows, err := c.ds.driver.SelectRows(
				ctx,
				db,
				c.ds.name,
				c.table,
				c.after,
				scanPageSize,
			)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var r row
				if err := rows.Scan(
					&r.handle,
					&r.packet.MediaType,
					&r.packet.Data,
				); err != nil {
					return err
				}

				c.page = append(c.page, r)
			}

			if err := rows.Err(); err != nil {
				return err
			}

			if len(c.page) < scanPageSize {
				c.done = true
			}

			if n := len(c.page); n > 0 {
				c.after = c.page[n-1].handle
			}

			return nil
		},
	)
}

func (c *cursor) Close() error {
	c.page = nil
	c.done = true
	return nil
}

// committer is an implementation of persistence.OperationVisitor that
// applies operations to the database.
type committer struct {
	tx     *sql.Tx
	driver Driver
	name   string
}

// VisitInsertRow applies the changes in an "InsertRow" operation to the
// database.
func (c *committer) VisitInsertRow(ctx context.Context, op persistence.InsertRow) error {
	ok, err := c.driver.InsertRow(ctx, c.tx, c.name, op)
	if err != nil {
		return err
	}

	if !ok {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	return nil
}

// VisitUpdateRow applies the changes in an "UpdateRow" operation to the
// database.
func (c *committer) VisitUpdateRow(ctx context.Context, op persistence.UpdateRow) error {
	ok, err := c.driver.UpdateRow(ctx, c.tx, c.name, op)
	if err != nil {
		return err
	}

	if !ok {
		return persistence.NotFoundError{
			Cause: op,
		}
	}

	return nil
}

// VisitDeleteRow applies the changes in a "DeleteRow" operation to the
// database.
func (c *committer) VisitDeleteRow(ctx context.Context, op persistence.DeleteRow) error {
	ok, err := c.driver.DeleteRow(ctx, c.tx, c.name, op)
	if err != nil {
		return err
	}

	if !ok {
		return persistence.NotFoundError{
			Cause: op,
		}
	}

	return nil
}

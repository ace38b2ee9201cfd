package persistence

import (
	"context"
	"sort"

	"github.com/dogmatiq/marshalkit"
)

// Transaction is a scoped unit of work against a data-store.
//
// Writes made through a transaction are visible to reads made through the same
// transaction, but not to any other transaction until Commit() is called.
//
// A transaction may be committed more than once. Each call to Commit() makes
// the work performed since the previous commit durable, after which the
// transaction remains usable. Rollback() discards any uncommitted work. Close()
// discards any uncommitted work and releases the transaction; it must be
// called on every exit path.
//
// Transactions are not safe for concurrent use.
type Transaction interface {
	// Insert stores a new row and returns its handle.
	Insert(ctx context.Context, table string, p marshalkit.Packet) (Handle, error)

	// Load returns the content of a row. ok is false if the row does not
	// exist.
	Load(ctx context.Context, table string, h Handle) (_ marshalkit.Packet, ok bool, _ error)

	// Update replaces the content of a row. It returns false if the row does
	// not exist.
	Update(ctx context.Context, table string, h Handle, p marshalkit.Packet) (bool, error)

	// Delete removes a row. It returns false if the row does not exist.
	Delete(ctx context.Context, table string, h Handle) (bool, error)

	// Scan returns a cursor over the rows of a table, including uncommitted
	// changes made within this transaction.
	Scan(ctx context.Context, table string) (RowCursor, error)

	// OnCommit registers fn to be called when the current unit of work is
	// committed.
	OnCommit(fn func())

	// OnRollback registers fn to be called when the current unit of work is
	// discarded, either explicitly or because Commit() failed.
	OnRollback(fn func())

	// Commit makes the current unit of work durable.
	Commit(ctx context.Context) error

	// Rollback discards the current unit of work.
	Rollback() error

	// Close discards the current unit of work and releases the transaction.
	Close() error
}

// WithTransaction executes fn inside a transaction begun from f.
//
// If fn returns nil the transaction is committed. Otherwise, the transaction is
// rolled-back and the error is returned.
func WithTransaction(
	ctx context.Context,
	f TransactionFactory,
	fn func(Transaction) error,
) error {
	tx, err := f.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// NewTransaction returns a transaction that stages writes in memory and
// commits them to p as a single batch.
func NewTransaction(p Persister) Transaction {
	return &transaction{
		persister: p,
	}
}

// transaction is the Transaction implementation shared by all data-stores.
type transaction struct {
	persister Persister
	closed    bool

	batch    Batch
	staged   map[entityKey]*marshalkit.Packet // nil packet = deleted
	commit   []func()
	rollback []func()
}

func (tx *transaction) Insert(ctx context.Context, table string, p marshalkit.Packet) (Handle, error) {
	if tx.closed {
		return 0, ErrTransactionClosed
	}

	h, err := tx.persister.NextHandle(ctx)
	if err != nil {
		return 0, err
	}

	tx.stage(
		InsertRow{
			Table:  table,
			Handle: h,
			Packet: p,
		},
		&p,
	)

	return h, nil
}

func (tx *transaction) Load(ctx context.Context, table string, h Handle) (marshalkit.Packet, bool, error) {
	if tx.closed {
		return marshalkit.Packet{}, false, ErrTransactionClosed
	}

	if p, ok := tx.staged[entityKey{table, h}]; ok {
		if p == nil {
			return marshalkit.Packet{}, false, nil
		}

		return *p, true, nil
	}

	return tx.persister.LoadRow(ctx, table, h)
}

func (tx *transaction) Update(ctx context.Context, table string, h Handle, p marshalkit.Packet) (bool, error) {
	_, ok, err := tx.Load(ctx, table, h)
	if !ok || err != nil {
		return false, err
	}

	var op Operation = UpdateRow{
		Table:  table,
		Handle: h,
		Packet: p,
	}

	// An update to a row inserted by this unit of work is still an insert as
	// far as the data-store is concerned.
	if ins, ok := tx.find(table, h).(InsertRow); ok {
		ins.Packet = p
		op = ins
	}

	tx.stage(op, &p)

	return true, nil
}

func (tx *transaction) Delete(ctx context.Context, table string, h Handle) (bool, error) {
	_, ok, err := tx.Load(ctx, table, h)
	if !ok || err != nil {
		return false, err
	}

	if _, ok := tx.find(table, h).(InsertRow); ok {
		// The row was never committed, so there is nothing to delete, but we
		// still need to hide it from reads within this unit of work.
		tx.unstage(table, h)
		tx.staged[entityKey{table, h}] = nil
		return true, nil
	}

	tx.stage(
		DeleteRow{
			Table:  table,
			Handle: h,
		},
		nil,
	)

	return true, nil
}

func (tx *transaction) Scan(ctx context.Context, table string) (RowCursor, error) {
	if tx.closed {
		return nil, ErrTransactionClosed
	}

	cur, err := tx.persister.ScanRows(ctx, table)
	if err != nil {
		return nil, err
	}

	c := &overlayCursor{
		cursor: cur,
		staged: map[Handle]*marshalkit.Packet{},
	}

	for k, p := range tx.staged {
		if k.Table == table {
			c.staged[k.Handle] = p
		}
	}

	for _, op := range tx.batch {
		if ins, ok := op.(InsertRow); ok && ins.Table == table {
			c.inserted = append(c.inserted, ins.Handle)
		}
	}

	sort.Slice(c.inserted, func(i, j int) bool {
		return c.inserted[i] < c.inserted[j]
	})

	return c, nil
}

func (tx *transaction) OnCommit(fn func()) {
	tx.commit = append(tx.commit, fn)
}

func (tx *transaction) OnRollback(fn func()) {
	tx.rollback = append(tx.rollback, fn)
}

func (tx *transaction) Commit(ctx context.Context) error {
	if tx.closed {
		return ErrTransactionClosed
	}

	if len(tx.batch) != 0 {
		tx.batch.MustValidate()

		if err := tx.persister.Persist(ctx, tx.batch); err != nil {
			tx.discard()
			return err
		}
	}

	fns := tx.commit
	tx.reset()

	for _, fn := range fns {
		fn()
	}

	return nil
}

func (tx *transaction) Rollback() error {
	if tx.closed {
		return ErrTransactionClosed
	}

	tx.discard()

	return nil
}

func (tx *transaction) Close() error {
	if tx.closed {
		return ErrTransactionClosed
	}

	tx.discard()
	tx.closed = true

	return nil
}

// discard abandons the current unit of work.
func (tx *transaction) discard() {
	fns := tx.rollback
	tx.reset()

	for _, fn := range fns {
		fn()
	}
}

func (tx *transaction) reset() {
	tx.batch = nil
	tx.staged = nil
	tx.commit = nil
	tx.rollback = nil
}

// stage replaces any existing operation on the same row with op.
func (tx *transaction) stage(op Operation, p *marshalkit.Packet) {
	k := op.entityKey()
	tx.unstage(k.Table, k.Handle)
	tx.batch = append(tx.batch, op)

	if tx.staged == nil {
		tx.staged = map[entityKey]*marshalkit.Packet{}
	}

	tx.staged[k] = p
}

func (tx *transaction) unstage(table string, h Handle) {
	k := entityKey{table, h}

	for i, op := range tx.batch {
		if op.entityKey() == k {
			tx.batch = append(tx.batch[:i], tx.batch[i+1:]...)
			return
		}
	}
}

func (tx *transaction) find(table string, h Handle) Operation {
	k := entityKey{table, h}

	for _, op := range tx.batch {
		if op.entityKey() == k {
			return op
		}
	}

	return nil
}

// overlayCursor merges a transaction's uncommitted changes with the committed
// rows returned by the data-store's cursor.
type overlayCursor struct {
	cursor   RowCursor
	staged   map[Handle]*marshalkit.Packet
	inserted []Handle
	done     bool
}

func (c *overlayCursor) Next(ctx context.Context) (Handle, marshalkit.Packet, bool, error) {
	for !c.done {
		h, p, ok, err := c.cursor.Next(ctx)
		if err != nil {
			return 0, marshalkit.Packet{}, false, err
		}

		if !ok {
			c.done = true
			break
		}

		if s, ok := c.staged[h]; ok {
			if s == nil {
				continue
			}

			p = *s
		}

		return h, p, true, nil
	}

	for len(c.inserted) > 0 {
		h := c.inserted[0]
		c.inserted = c.inserted[1:]

		if s := c.staged[h]; s != nil {
			return h, *s, true, nil
		}
	}

	return 0, marshalkit.Packet{}, false, nil
}

func (c *overlayCursor) Close() error {
	return c.cursor.Close()
}

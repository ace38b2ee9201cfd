package persistence

import (
	"context"

	"github.com/dogmatiq/marshalkit"
)

// A Persister is the interface a data-store implementation exposes to the
// generic Transaction implementation returned by NewTransaction().
type Persister interface {
	// NextHandle allocates a new handle.
	//
	// Handles are allocated outside of any batch, so a handle allocated within
	// a transaction that is later rolled-back is never handed out again.
	NextHandle(ctx context.Context) (Handle, error)

	// LoadRow loads the committed content of a row.
	//
	// ok is false if the row does not exist.
	LoadRow(ctx context.Context, table string, h Handle) (_ marshalkit.Packet, ok bool, _ error)

	// ScanRows returns a cursor over the committed rows in a table, in handle
	// order.
	ScanRows(ctx context.Context, table string) (RowCursor, error)

	// Persist commits a batch of operations atomically.
	//
	// If any one of the operations can not be applied the entire batch is
	// aborted and a ConflictError or NotFoundError is returned.
	Persist(ctx context.Context, b Batch) error
}

// RowCursor iterates over the rows of a table.
type RowCursor interface {
	// Next returns the next row. ok is false once the cursor is exhausted.
	Next(ctx context.Context) (_ Handle, _ marshalkit.Packet, ok bool, _ error)

	// Close releases the resources held by the cursor.
	Close() error
}

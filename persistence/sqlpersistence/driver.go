package sqlpersistence

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/persistence"
)

// Driver is used to interface with the underlying SQL database.
type Driver interface {
	LockDriver
	RowDriver

	// IsCompatibleWith returns nil if this driver can be used with db.
	IsCompatibleWith(ctx context.Context, db *sql.DB) error

	// Begin starts a transaction for use by Persist().
	Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error)

	// CreateSchema creates any SQL schema elements required by the driver.
	CreateSchema(ctx context.Context, db *sql.DB) error

	// DropSchema removes any SQL schema elements created by CreateSchema().
	DropSchema(ctx context.Context, db *sql.DB) error
}

// RowDriver is the subset of the Driver interface that is concerned with
// storing rows.
type RowDriver interface {
	// NextHandle allocates a new handle.
	NextHandle(ctx context.Context, db *sql.DB, store string) (persistence.Handle, error)

	// SelectRow loads a single row. It returns false if the row does not
	// exist.
	SelectRow(
		ctx context.Context,
		db *sql.DB,
		store, table string,
		h persistence.Handle,
	) (marshalkit.Packet, bool, error)

	// SelectRows queries up to limit rows of a table with handles greater
	// than after, in handle order.
	//
	// Each result row has three columns: the handle, the media-type and the
	// data.
	SelectRows(
		ctx context.Context,
		db *sql.DB,
		store, table string,
		after persistence.Handle,
		limit int,
	) (*sql.Rows, error)

	// InsertRow inserts a new row. It returns false if the row already exists.
	InsertRow(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		op persistence.InsertRow,
	) (bool, error)

	// UpdateRow replaces the content of a row. It returns false if the row
	// does not exist.
	UpdateRow(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		op persistence.UpdateRow,
	) (bool, error)

	// DeleteRow removes a row. It returns false if the row does not exist.
	DeleteRow(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		op persistence.DeleteRow,
	) (bool, error)
}

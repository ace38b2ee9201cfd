package sqlite

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/marshalkit"
	"github.com/procman/procman/internal/x/sqlx"
	"github.com/procman/procman/persistence"
)

// NextHandle allocates a new handle.
//
// Handles are allocated from an AUTOINCREMENT column, which SQLite guarantees
// never to reuse, even once the row that held the value is deleted.
func (driver) NextHandle(
	ctx context.Context,
	db *sql.DB,
	store string,
) (_ persistence.Handle, err error) {
	defer sqlx.Recover(&err)

	id := sqlx.Insert(
		ctx,
		db,
		`INSERT INTO procman_handle (store) VALUES ($1)`,
		store,
	)

	sqlx.Exec(
		ctx,
		db,
		`DELETE FROM procman_handle
		WHERE store = $1
		AND id < $2`,
		store,
		id,
	)

	return persistence.Handle(id), nil
}

// SelectRow loads a single row.
func (driver) SelectRow(
	ctx context.Context,
	db *sql.DB,
	store, table string,
	h persistence.Handle,
) (_ marshalkit.Packet, _ bool, err error) {
	defer sqlx.Recover(&err)

	var p marshalkit.Packet

	ok := sqlx.TryQueryRow(
		ctx,
		db,
		`SELECT
			media_type,
			data
		FROM procman_row
		WHERE store = $1
		AND tbl = $2
		AND handle = $3`,
		[]interface{}{store, table, int64(h)},
		&p.MediaType,
		&p.Data,
	)

	return p, ok, nil
}

// SelectRows queries up to limit rows with handles greater than after, in
// handle order.
func (driver) SelectRows(
	ctx context.Context,
	db *sql.DB,
	store, table string,
	after persistence.Handle,
	limit int,
) (*sql.Rows, error) {
	return db.QueryContext(
		ctx,
		`SELECT
			handle,
			media_type,
			data
		FROM procman_row
		WHERE store = $1
		AND tbl = $2
		AND handle > $3
		ORDER BY handle
		LIMIT $4`,
		store,
		table,
		int64(after),
		limit,
	)
}

// InsertRow inserts a new row.
func (driver) InsertRow(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	op persistence.InsertRow,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	_, ok := sqlx.TryInsert(
		ctx,
		tx,
		`INSERT INTO procman_row (
			store,
			tbl,
			handle,
			media_type,
			data
		) VALUES (
			$1, $2, $3, $4, $5
		) ON CONFLICT (store, tbl, handle) DO NOTHING`,
		store,
		op.Table,
		int64(op.Handle),
		op.Packet.MediaType,
		op.Packet.Data,
	)

	return ok, nil
}

// UpdateRow replaces the content of a row.
func (driver) UpdateRow(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	op persistence.UpdateRow,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`UPDATE procman_row SET
			media_type = $1,
			data = $2
		WHERE store = $3
		AND tbl = $4
		AND handle = $5`,
		op.Packet.MediaType,
		op.Packet.Data,
		store,
		op.Table,
		int64(op.Handle),
	), nil
}

// DeleteRow removes a row.
func (driver) DeleteRow(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	op persistence.DeleteRow,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`DELETE FROM procman_row
		WHERE store = $1
		AND tbl = $2
		AND handle = $3`,
		store,
		op.Table,
		int64(op.Handle),
	), nil
}

// createRowSchema creates schema elements for rows and handles.
func createRowSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS procman_handle (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			store TEXT NOT NULL
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS procman_row (
			store      TEXT NOT NULL,
			tbl        TEXT NOT NULL,
			handle     INTEGER NOT NULL,
			media_type TEXT NOT NULL,
			data       BLOB NOT NULL,

			PRIMARY KEY (store, tbl, handle)
		)`,
	)
}

// dropRowSchema drops schema elements for rows and handles.
func dropRowSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS procman_handle`)
	sqlx.Exec(ctx, db, `DROP TABLE IF EXISTS procman_row`)
}

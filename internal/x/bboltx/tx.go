package bboltx

import (
	"go.etcd.io/bbolt"
)

// BeginRead starts a read-only transaction.
func BeginRead(db *bbolt.DB) *bbolt.Tx {
	tx, err := db.Begin(false)
	Must(err)
	return tx
}

// BeginWrite starts a read-write transaction.
func BeginWrite(db *bbolt.DB) *bbolt.Tx {
	tx, err := db.Begin(true)
	Must(err)
	return tx
}

// Commit commits the given transaction.
func Commit(tx *bbolt.Tx) {
	Must(tx.Commit())
}

// Update executes fn within a read-write transaction.
//
// The transaction is committed if fn returns without panicking.
func Update(db *bbolt.DB, fn func(tx *bbolt.Tx)) {
	tx := BeginWrite(db)
	defer tx.Rollback() // nolint:errcheck

	fn(tx)

	Commit(tx)
}

// View executes fn within a read-only transaction.
func View(db *bbolt.DB, fn func(tx *bbolt.Tx)) {
	tx := BeginRead(db)
	defer tx.Rollback() // nolint:errcheck

	fn(tx)
}

package sqlx

import (
	"context"
	"database/sql"
)

// Exec executes a statement on the given DB.
func Exec(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) sql.Result {
	res, err := db.ExecContext(ctx, query, args...)
	Must(err)
	return res
}

// Insert executes an insert statement on the given DB and returns the last
// insert ID.
func Insert(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) int64 {
	res := Exec(ctx, db, query, args...)

	id, err := res.LastInsertId()
	Must(err)

	return id
}

// TryInsert executes an insert statement on the given DB and returns the last
// insert ID.
//
// It returns false if no row was inserted, which is expected to occur when the
// statement uses an "ON CONFLICT DO NOTHING" clause or equivalent.
func TryInsert(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) (int64, bool) {
	res := Exec(ctx, db, query, args...)

	n, err := res.RowsAffected()
	Must(err)

	if n == 0 {
		return 0, false
	}

	id, err := res.LastInsertId()
	Must(err)

	return id, true
}

// TryExecRow executes a statement on the given DB that is expected to affect
// at most one row.
//
// It returns false if no rows were affected.
func TryExecRow(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) bool {
	res := Exec(ctx, db, query, args...)

	n, err := res.RowsAffected()
	Must(err)

	return n == 1
}

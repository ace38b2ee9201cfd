package sqlx

import (
	"context"
	"database/sql"
)

// DB is the subset of *sql.DB, *sql.Conn and *sql.Tx used by the helpers in
// this package, so that schema and row statements can run inside or outside
// a transaction.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var (
	_ DB = (*sql.DB)(nil)
	_ DB = (*sql.Tx)(nil)
	_ DB = (*sql.Conn)(nil)
)

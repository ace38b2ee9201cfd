package sqlpersistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/procman/procman/persistence/sqlpersistence/sqlite"
	"go.uber.org/multierr"
)

// builtInDrivers is a list of the built-in drivers.
var builtInDrivers = []Driver{
	sqlite.Driver,
}

// CreateSchema creates the row, handle and lock tables used by data-stores in
// db. Existing tables are left as they are.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	return withDriver(ctx, db, Driver.CreateSchema)
}

// DropSchema drops the tables created by CreateSchema(). Missing tables are
// ignored.
func DropSchema(ctx context.Context, db *sql.DB) error {
	return withDriver(ctx, db, Driver.DropSchema)
}

// withDriver calls fn with the built-in driver that is compatible with db.
func withDriver(
	ctx context.Context,
	db *sql.DB,
	fn func(Driver, context.Context, *sql.DB) error,
) error {
	d, err := selectDriver(ctx, db)
	if err != nil {
		return err
	}

	return fn(d, ctx, db)
}

// selectDriver returns the built-in driver that is compatible with db.
func selectDriver(ctx context.Context, db *sql.DB) (Driver, error) {
	var err error

	for _, d := range builtInDrivers {
		e := d.IsCompatibleWith(ctx, db)
		if e == nil {
			return d, nil
		}

		err = multierr.Append(err, fmt.Errorf(
			"%T is not compatible with %T: %w",
			d,
			db.Driver(),
			e,
		))
	}

	return nil, multierr.Append(err, fmt.Errorf(
		"could not find a driver that is compatible with %T",
		db.Driver(),
	))
}

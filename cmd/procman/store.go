package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 database/sql driver
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/boltpersistence"
	"github.com/procman/procman/persistence/memorypersistence"
	"github.com/procman/procman/persistence/sqlpersistence"
	"github.com/procman/procman/persistence/sqlpersistence/sqlite"
	"go.uber.org/multierr"
)

// openStore opens the data-store described by cfg.
//
// The returned function closes the data-store and any database it opened.
func openStore(ctx context.Context, cfg Config) (persistence.DataStore, func() error, error) {
	var (
		p       persistence.Provider
		closeDB = func() error { return nil }
	)

	switch cfg.Store.Kind {
	case "memory":
		p = &memorypersistence.Provider{}

	case "bolt":
		p = &boltpersistence.FileProvider{Path: cfg.Store.Path}

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}

		if err := sqlpersistence.CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}

		p = &sqlpersistence.Provider{DB: db, Driver: sqlite.Driver}
		closeDB = db.Close

	default:
		return nil, nil, fmt.Errorf("unsupported store kind: %q", cfg.Store.Kind)
	}

	ds, err := p.Open(ctx, cfg.Store.Name)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	return ds, func() error {
		return multierr.Append(ds.Close(), closeDB())
	}, nil
}

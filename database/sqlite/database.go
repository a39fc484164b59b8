package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/partflow/partflow"
)

// Database wraps a SQLite connection together with the configured table
// names.
type Database struct {
	db     *sql.DB
	tables partflow.Tables
}

// Connect opens a SQLite database. The caller must have registered a
// driver named "sqlite" (the database package imports modernc.org/sqlite
// for this). Tables should be validated before calling Connect.
func Connect(_ context.Context, dsn string, tables partflow.Tables) (*Database, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite handles one writer at a time; a larger pool just trades
	// lock errors for queueing.
	db.SetMaxOpenConns(1)

	return &Database{
		db:     db,
		tables: tables,
	}, nil
}

// Ping verifies the database connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *Database) Migrate(ctx context.Context) error {
	if err := Migrate(ctx, d.db, d.tables); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *Database) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db, d.tables)
}

// GetRepo returns the TransferRepo for database operations.
func (d *Database) GetRepo() partflow.TransferRepo {
	return &Repo{db: d.db, tables: d.tables}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

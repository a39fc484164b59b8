package database

import (
	"context"
	"fmt"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/database/postgres"
	"github.com/partflow/partflow/database/sqlite"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds the configuration for connecting to a metadata backend.
type Config struct {
	// Type specifies the database type: "sqlite" or "postgres"
	Type string
	// DSN is the data source name (connection string)
	DSN string
	// Tables holds the transfer and part table names
	Tables partflow.Tables
}

// Database is a connected metadata backend. Migrate and Validate are
// separate steps so operators can run migrations out of band.
type Database interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Validate(ctx context.Context) error
	GetRepo() partflow.TransferRepo
	Close() error
}

// Connect opens a connection to the configured backend and verifies it
// is reachable. The schema is not touched; call Migrate and Validate on
// the returned Database, or use ConnectAndMigrate.
func Connect(ctx context.Context, cfg Config) (Database, error) {
	if err := cfg.Tables.Validate(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	var (
		db  Database
		err error
	)
	switch cfg.Type {
	case "sqlite":
		db, err = sqlite.Connect(ctx, cfg.DSN, cfg.Tables)
	case "postgres":
		db, err = postgres.Connect(ctx, cfg.DSN, cfg.Tables)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Type, err)
	}

	return db, nil
}

// ConnectAndMigrate establishes a connection to the configured database
// backend, runs migrations, validates the schema, and returns a
// TransferRepo. The returned cleanup function should be called to close
// the connection.
func ConnectAndMigrate(ctx context.Context, cfg Config) (partflow.TransferRepo, func(), error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", cfg.Type, err)
	}

	if err := db.Validate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("validate %s schema: %w", cfg.Type, err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return db.GetRepo(), cleanup, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/partflow/partflow"
)

// quoteIdentifier safely quotes a SQLite identifier
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

type TableMigration struct {
	TableName string
	Up        func(ctx context.Context, db *sql.DB) error
	Down      func(ctx context.Context, db *sql.DB) error
}

// getTableMigrations returns all table migrations for the app
func getTableMigrations(tables partflow.Tables) []TableMigration {
	return []TableMigration{
		{
			TableName: tables.Transfers,
			Up:        createTransfersTable(tables.Transfers),
			Down:      dropTable(tables.Transfers),
		},
		{
			TableName: tables.Parts,
			Up:        createPartsTable(tables.Parts, tables.Transfers),
			Down:      dropTable(tables.Parts),
		},
	}
}

func Migrate(ctx context.Context, db *sql.DB, tables partflow.Tables) error {
	migrations := getTableMigrations(tables)

	for _, migration := range migrations {
		if err := migration.Up(ctx, db); err != nil {
			return fmt.Errorf("migrate up %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func DropTables(ctx context.Context, db *sql.DB, tables partflow.Tables) error {
	migrations := getTableMigrations(tables)

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if err := migration.Down(ctx, db); err != nil {
			return fmt.Errorf("migrate down %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func createTransfersTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := quoteIdentifier(tableName)
		indexStale := quoteIdentifier(fmt.Sprintf("idx_%s_stale", tableName))

		createTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT NOT NULL PRIMARY KEY,
				target_key TEXT NOT NULL,
				content_type TEXT NOT NULL,
				principal TEXT NOT NULL,
				upload_id TEXT NOT NULL,
				file_size INTEGER NOT NULL,
				part_size INTEGER NOT NULL,
				part_count INTEGER NOT NULL,
				status TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`, quotedTable)

		if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		indexSQL := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (status, created_at, id)
		`, indexStale, quotedTable)

		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index stale: %w", err)
		}

		return nil
	}
}

func createPartsTable(tableName, transfersTable string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := quoteIdentifier(tableName)
		quotedTransfers := quoteIdentifier(transfersTable)

		createTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				transfer_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
				part_index INTEGER NOT NULL,
				range_start INTEGER NOT NULL,
				range_end INTEGER NOT NULL,
				size INTEGER NOT NULL,
				checksum TEXT NOT NULL,
				token TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (transfer_id, part_index)
			)
		`, quotedTable, quotedTransfers)

		if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		return nil
	}
}

func dropTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := quoteIdentifier(tableName)
		dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", quotedTable)

		_, err := db.ExecContext(ctx, dropSQL)
		return err
	}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partflow/partflow"
)

// Migrate creates the transfer and part tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables partflow.Tables) error {
	if err := createTransfersTable(ctx, pool, tables.Transfers); err != nil {
		return err
	}
	if err := createPartsTable(ctx, pool, tables.Parts, tables.Transfers); err != nil {
		return err
	}
	return nil
}

func createTransfersTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexStale := pgx.Identifier{fmt.Sprintf("idx_%s_stale", tableName)}.Sanitize()

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			target_key TEXT NOT NULL,
			content_type TEXT NOT NULL,
			principal TEXT NOT NULL,
			upload_id TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			part_size BIGINT NOT NULL,
			part_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (created_at, id)
		WHERE (status IN ('initiated', 'in_progress'));
	`,
		quotedTable,
		indexStale, quotedTable,
	)

	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create transfers table: %w", err)
	}
	return nil
}

func createPartsTable(ctx context.Context, pool *pgxpool.Pool, tableName, transfersTable string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	quotedTransfers := pgx.Identifier{transfersTable}.Sanitize()

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			transfer_id UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			part_index INTEGER NOT NULL,
			range_start BIGINT NOT NULL,
			range_end BIGINT NOT NULL,
			size BIGINT NOT NULL,
			checksum TEXT NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (transfer_id, part_index)
		);
	`, quotedTable, quotedTransfers)

	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create parts table: %w", err)
	}
	return nil
}

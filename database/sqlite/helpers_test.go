package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/database/sqlite"

	_ "modernc.org/sqlite" // SQLite driver
)

// setupTestRepo creates an in-memory repo with migrated tables.
func setupTestRepo(t *testing.T) partflow.TransferRepo {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Connect(ctx, ":memory:", partflow.DefaultTables())
	require.NoError(t, err, "failed to connect")

	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx), "failed to migrate")
	require.NoError(t, db.Validate(ctx), "schema validation failed")

	return db.GetRepo()
}

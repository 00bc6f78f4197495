package testutil

import (
	"testing"

	"budgetsync/internal/database"
	"budgetsync/internal/database/migrations"
	"budgetsync/internal/live"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied, publishing commits to hub (which may be nil).
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, hub *live.Hub) *database.SQLiteDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB, hub)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

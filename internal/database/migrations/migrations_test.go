package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"budgets", "budget_line_items", "pending_operations", "sync_runs", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckDBMigrationStatus(db)
		if !errors.Is(err, ErrNeedsMigration) {
			t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNeedsMigration", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}

		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
		}
	})
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	version, dirty, err := Version(db)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	latest, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if version != latest || dirty {
		t.Errorf("Version() = %d (dirty=%v), want %d clean", version, dirty, latest)
	}
}

func TestSchema_BudgetPrimaryKey(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := "INSERT INTO budgets (user_id, month, sync_status, last_modified) VALUES ('u1', '2025-01', 'synced', 0)"
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("Failed to insert budget: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("Expected primary key violation for duplicate (user_id, month), but insert succeeded")
	}
}

func TestSchema_SyncStatusCheck(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO budget_line_items (id, user_id, month, type, category, name, amount, sync_status, last_modified)
		VALUES ('item-1', 'u1', '2025-01', 'income', 'netSalary', 'Salary', '10', 'unknown', 0)
	`)
	if err == nil {
		t.Error("Expected check constraint violation for sync_status, but insert succeeded")
	}
}

func TestSchema_PendingOperationDefaults(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO pending_operations (operation_type, entity_type, entity_id, user_id, month, payload, created_at)
		VALUES ('create', 'budgetLineItem', 'item-1', 'u1', '2025-01', '{}', 1)
	`)
	if err != nil {
		t.Fatalf("Failed to insert operation: %v", err)
	}

	var retries, next int64
	if err := db.QueryRow("SELECT retry_count, next_attempt_at FROM pending_operations").Scan(&retries, &next); err != nil {
		t.Fatalf("Failed to read operation: %v", err)
	}
	if retries != 0 || next != 0 {
		t.Errorf("retry_count=%d next_attempt_at=%d, want 0 and 0", retries, next)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}

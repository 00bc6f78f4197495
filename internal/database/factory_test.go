package database

import (
	"os"
	"path/filepath"
	"testing"

	"budgetsync/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewDatabaseFromConfig(cfg, "user-123", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database is named after the user", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewDatabaseFromConfig(cfg, "user-123", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		want := filepath.Join(dir, "user-123.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewDatabaseFromConfig(cfg, "user-123", nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewDatabaseFromConfig(cfg, "user-123", nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}

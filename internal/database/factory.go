package database

import (
	"fmt"
	"os"
	"path/filepath"

	"budgetsync/internal/config"
	"budgetsync/internal/live"
)

// NewDatabaseFromConfig opens the local store described by cfg and migrates
// it to the latest schema. The sqlite file is named after userID.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, userID string, hub *live.Hub) (*SQLiteDatabase, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		name := userID
		if name == "" {
			name = "local"
		}
		path = filepath.Join(cfg.DataDir, name+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path, hub)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

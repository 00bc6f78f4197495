package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"budgetsync/internal/budget"
	"budgetsync/internal/database/migrations"
	"budgetsync/internal/live"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements budget.Store using SQLite. A single connection
// serializes all writers. Each committed write is published to the hub with
// the tables it touched.
type SQLiteDatabase struct {
	*queries
	db   *sql.DB
	hub  *live.Hub
	path string
}

var _ budget.Store = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path (or ":memory:").
// The schema is not migrated; see migrations.MigrateUp.
func NewSQLiteDatabase(path string, hub *live.Hub) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, hub)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps a connection opened with OpenConnection.
func NewSQLiteDatabaseFromDB(db *sql.DB, hub *live.Hub) *SQLiteDatabase {
	return &SQLiteDatabase{
		queries: &queries{db: db, changed: hub.Publish},
		db:      db,
		hub:     hub,
	}
}

// OpenConnection opens and configures a SQLite connection.
// path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writers serialize, and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// RunInTx runs fn in a transaction and publishes the touched tables once
// after commit.
func (s *SQLiteDatabase) RunInTx(ctx context.Context, fn func(q budget.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	touched := make(map[string]struct{})
	qtx := &queries{db: tx, changed: func(tables ...string) {
		for _, t := range tables {
			touched[t] = struct{}{}
		}
	}}

	if err := fn(qtx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	if len(touched) > 0 {
		topics := make([]string, 0, len(touched))
		for t := range touched {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		s.hub.Publish(topics...)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Package migrations holds the local store schema as embedded golang-migrate
// files and applies them to a SQLite connection.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// ErrNeedsMigration is returned by CheckDBMigrationStatus for a database
// that has never been migrated.
var ErrNeedsMigration = errors.New("database has no schema version (needs migration)")

// CheckDBMigrationStatus returns nil if db is at the latest schema version.
func CheckDBMigrationStatus(db *sql.DB) error {
	version, dirty, err := Version(db)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}

	switch {
	case version < latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latest, latest-version)
	case version > latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			version, latest)
	}
	return nil
}

// Version returns the schema version recorded in db.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	// m is not closed: closing it would close db, which the caller owns.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, ErrNeedsMigration
		}
		return 0, false, fmt.Errorf("failed to get database version: %w", err)
	}
	return version, dirty, nil
}

// MigrateUp applies all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest migration version embedded in the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()

	latest, err := lastVersion(src)
	if err != nil {
		return 0, fmt.Errorf("failed to determine latest version: %w", err)
	}
	return latest, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// lastVersion walks the source from First until Next fails.
func lastVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}

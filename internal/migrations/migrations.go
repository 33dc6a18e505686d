// Package migrations embeds the database schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Files holds one SQL statement per migration file.
//
//go:embed sql/*.sql
var Files embed.FS

const dir = "sql"

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(Files, dir)
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. A schema that is already current is not
// an error.
func Up(db *sql.DB, logger *slog.Logger) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return logVersion(m, logger)
}

// Down rolls back the given number of migrations.
func Down(db *sql.DB, steps int, logger *slog.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return logVersion(m, logger)
}

func logVersion(m *migrate.Migrate, logger *slog.Logger) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("database schema is empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	logger.Info("database schema migrated", "version", version, "dirty", dirty)
	return nil
}

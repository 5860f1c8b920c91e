package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the store's dialect.
// The migrate instance is not closed since that would close the shared *sql.DB.
func Migrate(s *Store, logger *slog.Logger) error {
	var (
		driver database.Driver
		err    error
		dir    string
	)
	switch s.dialect {
	case dialect.Postgres:
		dir = "migrations/postgres"
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
	case dialect.SQLite:
		dir = "migrations/sqlite"
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	default:
		return fmt.Errorf("no migrations for dialect %q", s.dialect)
	}
	if err != nil {
		logger.Error("could not create migration driver", "dialect", s.dialect, "error", err)
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, s.dialect, driver)
	if err != nil {
		logger.Error("migration instance creation failed", "source", dir, "error", err)
		return fmt.Errorf("migration instance: %w", err)
	}

	logger.Info("applying database migrations", "source", dir)
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new database migrations to apply")
			return nil
		}
		logger.Error("failed to apply migrations", "error", err)
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("database migrations applied successfully")
	return nil
}

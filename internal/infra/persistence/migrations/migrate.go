// Package migrations wires golang-migrate execution for DCAFlow's persistence layer.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/coachpo/dcaflow/db/migrations"
	"github.com/coachpo/dcaflow/internal/observability"
)

// Apply runs the migrations located at migrationsDir against the Postgres
// instance reachable via dsn.
func Apply(ctx context.Context, dsn, migrationsDir string) error {
	return run(ctx, dsn, func(driver database.Driver) (*migrate.Migrate, error) {
		sourceURL := fileURL(migrationsDir)
		return migrate.NewWithDatabaseInstance(sourceURL, "pgx5", driver)
	})
}

// Rollback reverts up to steps migrations from migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return runWith(ctx, dsn, func(driver database.Driver) (*migrate.Migrate, error) {
		sourceURL := fileURL(migrationsDir)
		return migrate.NewWithDatabaseInstance(sourceURL, "pgx5", driver)
	}, func(m *migrate.Migrate) error {
		return m.Steps(-steps)
	})
}

// ApplyEmbedded runs the SQL migrations bundled into the binary.
func ApplyEmbedded(ctx context.Context, dsn string) error {
	return run(ctx, dsn, func(driver database.Driver) (*migrate.Migrate, error) {
		source, err := iofs.New(dbmigrations.Files, ".")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return migrate.NewWithInstance("iofs", source, "pgx5", driver)
	})
}

func run(ctx context.Context, dsn string, build func(database.Driver) (*migrate.Migrate, error)) error {
	return runWith(ctx, dsn, build, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

func runWith(ctx context.Context, dsn string, build func(database.Driver) (*migrate.Migrate, error), step func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Error("close migrations connection", observability.F("error", cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := build(driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Error("close migrations source", observability.F("error", sourceErr))
		}
		if dbErr != nil {
			observability.Log().Error("close migrations db", observability.F("error", dbErr))
		}
	}()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func fileURL(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	return "file://" + (&url.URL{Path: abs}).String()
}

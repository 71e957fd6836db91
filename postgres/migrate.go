package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "pipeline_outbox_migrations"

//go:embed migrations/*.sql
var migrations embed.FS

// MigrateVersioned applies the embedded migrations with the default table names.
// It returns the resulting schema version.
func MigrateVersioned(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, ErrDBRequired
	}

	m, source, err := newMigrate(db)
	if err != nil {
		return 0, err
	}
	// m.Close would also close db, so only the source is released.
	defer source.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return 0, fmt.Errorf("outbox postgres: dirty schema version %d", dirty.Version)
		}

		return 0, fmt.Errorf("outbox postgres: migrate up failed: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("outbox postgres: read schema version failed: %w", err)
	}

	return version, nil
}

// MigrationVersions lists the versions of the embedded migrations in order.
func MigrationVersions() ([]uint, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: load migrations failed: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: first migration failed: %w", err)
	}

	versions := []uint{version}
	for {
		next, err := source.Next(version)
		if err != nil {
			break
		}
		versions = append(versions, next)
		version = next
	}

	return versions, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, interface{ Close() error }, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("outbox postgres: load migrations failed: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = source.Close()

		return nil, nil, fmt.Errorf("outbox postgres: migration driver failed: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = source.Close()

		return nil, nil, fmt.Errorf("outbox postgres: migration instance failed: %w", err)
	}

	return m, source, nil
}

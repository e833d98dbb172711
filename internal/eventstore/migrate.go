package eventstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending EventStore schema migrations against the
// sqlite database at path, matching §4.1 "if optional scope columns are
// absent, the store migrates by adding them" -- here expressed as a
// versioned migration set rather than ad hoc ALTER TABLE probing, the way
// the teacher's golang-migrate-backed stores do it (internal/storage used
// the same library against Postgres/Cockroach).
func Migrate(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("eventstore: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
	if err != nil {
		return fmt.Errorf("eventstore: init migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("eventstore: migrate up: %w", err)
	}
	return nil
}

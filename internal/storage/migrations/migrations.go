// Package migrations embeds the Postgres schema and applies it via
// golang-migrate, so contexd's own binary carries its schema rather than
// depending on an external migration step at deploy time.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply runs every pending up migration against db in lexical order.
// Already-applied migrations are a no-op; Apply is safe to call on every
// process start.
func Apply(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Down rolls back every applied migration. Used only by operational
// tooling and tests, never by the running server.
func Down(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migration source: %w", err)
	}

	target, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres migration target: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", target)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return m, nil
}

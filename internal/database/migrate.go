// internal/database/migrate.go
package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"scm-graph-fetcher/internal/database/migrations"
)

// Migrate applies the embedded schema for the backend named by dbURL.
func Migrate(dbURL string) error {
	backend, err := BackendFor(dbURL)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.FS, string(backend))
	if err != nil {
		return fmt.Errorf("load %s migrations: %w", backend, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

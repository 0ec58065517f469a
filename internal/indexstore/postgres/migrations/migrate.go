// Package migrations applies the SQL files in this directory with
// golang-migrate, ahead of gormstore.New ever issuing a query.
package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Up applies every pending migration against the Postgres database at
// dsn. Called once from cmd/dicomserver before the server starts
// accepting associations when IndexBackend is "postgres".
func Up(dsn string) error {
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: reading embedded source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migrations: opening migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

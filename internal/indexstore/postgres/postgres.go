// Package postgres opens the multi-instance index database tier: a
// Postgres database via GORM's postgres driver (pgx underneath). Schema
// is managed out-of-band by golang-migrate against the SQL files in
// migrations/, not by AutoMigrate, so a production rollout gets
// reviewable, versioned schema changes instead of GORM's best-effort
// reconciliation.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/internal/indexstore/gormstore"
)

// Open connects to the Postgres database at dsn. Callers are expected to
// have already applied migrations/ (see migrations.Up); Open does not
// run AutoMigrate, so an unmigrated database fails requests with SQL
// errors from the missing tables rather than silently drifting schema.
func Open(dsn string) (index.Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return gormstore.New(db), nil
}

// Package sqlite opens the embedded, single-node index database tier:
// a pure-Go (no cgo) SQLite file via glebarez/sqlite, auto-migrated on
// open. It is the index.Store a single-process deployment picks via
// config.Config.IndexBackend == "sqlite".
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/internal/indexstore/gormstore"
)

// Open opens (creating if necessary) a SQLite database file at dsn and
// returns an index.Store backed by it. An empty dsn opens an in-memory
// SQLite database, useful for tests that want real SQL semantics
// without a file on disk.
func Open(dsn string) (index.Store, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(gormstore.AllModels...); err != nil {
		return nil, fmt.Errorf("sqlite: automigrate: %w", err)
	}
	return gormstore.New(db), nil
}

package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/tlk/internal/store/migrations"
)

// SchemaVersion is the archive schema this build writes: 1 is the message and
// call tables, 2 adds the FTS4 search index.
const SchemaVersion uint = 2

var (
	ErrDirtyArchive = errors.New("store: archive has a failed migration")
	ErrNewerArchive = errors.New("store: archive was written by a newer tlkd")
)

// MigrateResult reports the archive schema after migration.
type MigrateResult struct {
	Path    string
	From    uint
	Version uint
	Changed bool
}

// Migrate brings the archive up to SchemaVersion. An archive left dirty by an
// interrupted migration, or one already past SchemaVersion, is refused
// rather than touched.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("archive %s: read schema version: %w", db.path, err)
	case dirty:
		return nil, fmt.Errorf("archive %s at version %d: %w", db.path, from, ErrDirtyArchive)
	case from > SchemaVersion:
		return nil, fmt.Errorf("archive %s at version %d, this build knows %d: %w", db.path, from, SchemaVersion, ErrNewerArchive)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("archive %s: migrate from version %d: %w", db.path, from, err)
	}
	version, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("archive %s: read schema version: %w", db.path, err)
	}
	return &MigrateResult{
		Path:    db.path,
		From:    from,
		Version: version,
		Changed: version != from,
	}, nil
}

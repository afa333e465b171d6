package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings.Output.SQLite.Path == "" {
		return validationError("sqlite path must be set", "output.sqlite.path", "")
	}
	return nil
}

// Open connects to the database file, creating its directory and schema as needed.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	path := store.Settings.Output.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_db_dir").
				Build()
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), newGormConfig())
	if err != nil {
		return dbError(err, "open", "db_type", "sqlite")
	}

	store.DB = db
	return performAutoMigration(db, "SQLite", path)
}

// Close releases the connection pool.
func (store *SQLiteStore) Close() error {
	return closeDB(store.DB)
}

// Snapshot writes a compacted copy of the live database with VACUUM INTO.
func (store *SQLiteStore) Snapshot(ctx context.Context, dest string) error {
	if err := store.ready("snapshot"); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return validationError("snapshot destination already exists", "dest", dest)
	}
	if err := store.DB.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return dbError(err, "snapshot", "dest", dest)
	}
	return nil
}

func (store *SQLiteStore) Driver() string { return "sqlite" }

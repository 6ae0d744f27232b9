package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stagehand-sh/stagehand/internal/constants"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
const dbName = "stagehand.db"

type DB struct {
	*sql.DB
}

// New opens (creating if necessary) the stagehand database under the
// given state directory and applies the schema.
func New(stateDir string) (*DB, error) {
	if err := os.MkdirAll(stateDir, constants.ModeDirDefault); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbFile := filepath.Join(stateDir, dbName)
	database, err := sql.Open(driverName, dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := database.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	db := &DB{database}
	if err := db.createTables(); err != nil {
		database.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) createTables() error {
	for _, create := range []func(*DB) error{
		createAttemptsTable,
		createBackupsTable,
		createReportsTable,
		createLedgerTable,
		createLocksTable,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

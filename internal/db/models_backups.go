package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backup is a point-in-time snapshot taken before any mutating deploy
// step. Backups are never updated or deleted; they are the audit trail
// rollbacks restore from.
type Backup struct {
	ID          string          `json:"id"`
	AttemptID   string          `json:"attempt_id"`
	PreviousTag string          `json:"previous_tag"`
	Descriptor  []byte          `json:"descriptor"`
	Inventory   json.RawMessage `json:"inventory"`
	CreatedAt   time.Time       `json:"created_at"`
}

func createBackupsTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS backups (
    id TEXT PRIMARY KEY,                    -- attempt id + ULID, unique under retries
    attempt_id TEXT NOT NULL UNIQUE,        -- exactly one backup per attempt
    previous_tag TEXT NOT NULL,
    descriptor BLOB NOT NULL,               -- raw serialized stack definition
    inventory JSON NOT NULL,                -- running units and image refs at snapshot time
    created_at TEXT NOT NULL,

    FOREIGN KEY (attempt_id) REFERENCES attempts(id)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create backups table: %w", err)
	}
	return nil
}

func (db *DB) SaveBackup(backup Backup) error {
	query := `INSERT INTO backups (id, attempt_id, previous_tag, descriptor, inventory, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query, backup.ID, backup.AttemptID, backup.PreviousTag,
		backup.Descriptor, []byte(backup.Inventory), backup.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save backup %s: %w", backup.ID, err)
	}
	return nil
}

func (db *DB) GetBackup(backupID string) (Backup, error) {
	query := `SELECT id, attempt_id, previous_tag, descriptor, inventory, created_at
              FROM backups WHERE id = ?`
	return scanBackup(db.QueryRow(query, backupID), backupID)
}

// GetBackupForAttempt returns the backup taken for the given attempt.
func (db *DB) GetBackupForAttempt(attemptID string) (Backup, error) {
	query := `SELECT id, attempt_id, previous_tag, descriptor, inventory, created_at
              FROM backups WHERE attempt_id = ?`
	return scanBackup(db.QueryRow(query, attemptID), attemptID)
}

// GetLatestBackup returns the most recent backup, used by the manual
// rollback command when no attempt is named.
func (db *DB) GetLatestBackup() (Backup, error) {
	query := `SELECT id, attempt_id, previous_tag, descriptor, inventory, created_at
              FROM backups ORDER BY id DESC LIMIT 1`
	return scanBackup(db.QueryRow(query), "latest")
}

func scanBackup(row *sql.Row, key string) (Backup, error) {
	var backup Backup
	var inventory []byte
	var createdAt string
	err := row.Scan(&backup.ID, &backup.AttemptID, &backup.PreviousTag,
		&backup.Descriptor, &inventory, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Backup{}, fmt.Errorf("backup %s not found", key)
	}
	if err != nil {
		return Backup{}, fmt.Errorf("failed to get backup %s: %w", key, err)
	}
	backup.Inventory = json.RawMessage(inventory)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Backup{}, fmt.Errorf("failed to parse backup creation time: %w", err)
	}
	backup.CreatedAt = t
	return backup, nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RollbackReport records a completed rollback for audit: which backup
// was restored, which tag failed, and what was running before the
// failure.
type RollbackReport struct {
	AttemptID   string          `json:"attempt_id"`
	BackupID    string          `json:"backup_id"`
	FailedTag   string          `json:"failed_tag"`
	RestoredTag string          `json:"restored_tag"`
	Inventory   json.RawMessage `json:"inventory"`
	Cause       string          `json:"cause"`
	CreatedAt   time.Time       `json:"created_at"`
}

func createReportsTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS rollback_reports (
    attempt_id TEXT PRIMARY KEY,
    backup_id TEXT NOT NULL,
    failed_tag TEXT NOT NULL,
    restored_tag TEXT NOT NULL,
    inventory JSON NOT NULL,                -- pre-failure unit inventory
    cause TEXT NOT NULL,                    -- original failure that triggered the rollback
    created_at TEXT NOT NULL,

    FOREIGN KEY (attempt_id) REFERENCES attempts(id),
    FOREIGN KEY (backup_id) REFERENCES backups(id)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create rollback_reports table: %w", err)
	}
	return nil
}

func (db *DB) SaveRollbackReport(report RollbackReport) error {
	query := `INSERT INTO rollback_reports (attempt_id, backup_id, failed_tag, restored_tag, inventory, cause, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query, report.AttemptID, report.BackupID, report.FailedTag,
		report.RestoredTag, []byte(report.Inventory), report.Cause, report.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save rollback report for attempt %s: %w", report.AttemptID, err)
	}
	return nil
}

func (db *DB) GetRollbackReport(attemptID string) (RollbackReport, error) {
	query := `SELECT attempt_id, backup_id, failed_tag, restored_tag, inventory, cause, created_at
              FROM rollback_reports WHERE attempt_id = ?`
	var report RollbackReport
	var inventory []byte
	var createdAt string
	err := db.QueryRow(query, attemptID).Scan(&report.AttemptID, &report.BackupID,
		&report.FailedTag, &report.RestoredTag, &inventory, &report.Cause, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RollbackReport{}, fmt.Errorf("no rollback report for attempt %s", attemptID)
	}
	if err != nil {
		return RollbackReport{}, fmt.Errorf("failed to get rollback report: %w", err)
	}
	report.Inventory = json.RawMessage(inventory)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return RollbackReport{}, fmt.Errorf("failed to parse report creation time: %w", err)
	}
	report.CreatedAt = t
	return report, nil
}

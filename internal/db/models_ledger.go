package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// VersionLedger is the single durable record of what is deployed:
// current_tag is whatever ended up running, stable_tag the last tag that
// completed an attempt in SUCCEEDED.
type VersionLedger struct {
	Environment string    `json:"environment"`
	CurrentTag  string    `json:"current_tag"`
	StableTag   string    `json:"stable_tag"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func createLedgerTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS ledger (
    environment TEXT PRIMARY KEY,
    current_tag TEXT NOT NULL,
    stable_tag TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// GetLedger reads the ledger record for an environment. A missing record
// returns an empty ledger, which is the state before the first ever
// deployment.
func (db *DB) GetLedger(environment string) (VersionLedger, error) {
	query := `SELECT environment, current_tag, stable_tag, updated_at FROM ledger WHERE environment = ?`
	var ledger VersionLedger
	var updatedAt string
	err := db.QueryRow(query, environment).Scan(&ledger.Environment, &ledger.CurrentTag, &ledger.StableTag, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionLedger{Environment: environment}, nil
	}
	if err != nil {
		return VersionLedger{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return VersionLedger{}, fmt.Errorf("failed to parse ledger update time: %w", err)
	}
	ledger.UpdatedAt = t
	return ledger, nil
}

// SetLedger writes the ledger record atomically. Callers hold the
// environment lock, so there is never more than one writer.
func (db *DB) SetLedger(ledger VersionLedger) error {
	query := `INSERT INTO ledger (environment, current_tag, stable_tag, updated_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(environment) DO UPDATE SET
                  current_tag = excluded.current_tag,
                  stable_tag = excluded.stable_tag,
                  updated_at = excluded.updated_at`
	_, err := db.Exec(query, ledger.Environment, ledger.CurrentTag, ledger.StableTag,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Attempt states. An attempt is immutable once it reaches a terminal
// state.
const (
	StatePending        = "PENDING"
	StateBackingUp      = "BACKING_UP"
	StateDeploying      = "DEPLOYING"
	StateVerifying      = "VERIFYING"
	StateSucceeded      = "SUCCEEDED"
	StateFailed         = "FAILED"
	StateRollingBack    = "ROLLING_BACK"
	StateRolledBack     = "ROLLED_BACK"
	StateRollbackFailed = "ROLLBACK_FAILED"
)

// TerminalState reports whether an attempt state is terminal.
func TerminalState(state string) bool {
	switch state {
	case StateSucceeded, StateFailed, StateRolledBack, StateRollbackFailed:
		return true
	}
	return false
}

// Attempt is one release cycle: gate, backup, deploy, verify, and the
// rollback path when something breaks.
type Attempt struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	TargetTag   string     `json:"target_tag"`
	State       string     `json:"state"`
	Failure     string     `json:"failure,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func createAttemptsTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,                    -- Monotonic build identifier
    environment TEXT NOT NULL,
    target_tag TEXT NOT NULL,
    state TEXT NOT NULL,
    failure TEXT,                           -- Root-cause error chain, terminal failures only
    started_at TEXT NOT NULL,
    ended_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_attempts_environment ON attempts(environment);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create attempts table: %w", err)
	}
	return nil
}

func (db *DB) SaveAttempt(attempt Attempt) error {
	query := `INSERT INTO attempts (id, environment, target_tag, state, failure, started_at, ended_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query, attempt.ID, attempt.Environment, attempt.TargetTag,
		attempt.State, nullable(attempt.Failure), attempt.StartedAt.UTC().Format(time.RFC3339Nano), nullableTime(attempt.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// UpdateAttemptState records a state transition. Terminal states also
// record the end timestamp and failure cause.
func (db *DB) UpdateAttemptState(attemptID, state, failure string) error {
	var endedAt any
	if TerminalState(state) {
		endedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	query := `UPDATE attempts SET state = ?, failure = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`
	result, err := db.Exec(query, state, nullable(failure), endedAt, attemptID)
	if err != nil {
		return fmt.Errorf("failed to update attempt %s: %w", attemptID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	return nil
}

func (db *DB) GetAttempt(attemptID string) (Attempt, error) {
	query := `SELECT id, environment, target_tag, state, failure, started_at, ended_at
              FROM attempts WHERE id = ?`
	row := db.QueryRow(query, attemptID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %s not found", attemptID)
	}
	return attempt, err
}

// GetAttemptHistory returns the most recent attempts for an environment,
// newest first.
func (db *DB) GetAttemptHistory(environment string, limit int) ([]Attempt, error) {
	query := `SELECT id, environment, target_tag, state, failure, started_at, ended_at
              FROM attempts
              WHERE environment = ?
              ORDER BY id DESC
              LIMIT ?`
	rows, err := db.Query(query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt history: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var attempt Attempt
	var failure, endedAt sql.NullString
	var startedAt string
	if err := row.Scan(&attempt.ID, &attempt.Environment, &attempt.TargetTag,
		&attempt.State, &failure, &startedAt, &endedAt); err != nil {
		return Attempt{}, err
	}
	attempt.Failure = failure.String
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Attempt{}, fmt.Errorf("failed to parse attempt start time: %w", err)
	}
	attempt.StartedAt = t
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Attempt{}, fmt.Errorf("failed to parse attempt end time: %w", err)
		}
		attempt.EndedAt = &t
	}
	return attempt, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

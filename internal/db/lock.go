package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEnvironmentBusy means another attempt holds the environment lock.
// The attempt is safe to retry once the holder finishes.
var ErrEnvironmentBusy = errors.New("environment is busy with another deployment attempt")

const lockPollInterval = 500 * time.Millisecond

func createLocksTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS env_locks (
    environment TEXT PRIMARY KEY,
    holder TEXT NOT NULL,                   -- attempt id holding the lock
    acquired_at TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create env_locks table: %w", err)
	}
	return nil
}

// AcquireEnvironmentLock takes the advisory lock for an environment,
// waiting up to maxWait. It returns ErrEnvironmentBusy when the lock
// cannot be taken in time, never blocking indefinitely.
func (db *DB) AcquireEnvironmentLock(ctx context.Context, environment, holder string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		acquired, err := db.tryAcquireLock(environment, holder)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock wait of %s exceeded for environment %s: %w", maxWait, environment, ErrEnvironmentBusy)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock wait canceled for environment %s: %w", environment, ErrEnvironmentBusy)
		case <-time.After(lockPollInterval):
		}
	}
}

func (db *DB) tryAcquireLock(environment, holder string) (bool, error) {
	query := `INSERT INTO env_locks (environment, holder, acquired_at)
              VALUES (?, ?, ?)
              ON CONFLICT(environment) DO NOTHING`
	result, err := db.Exec(query, environment, holder, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to acquire environment lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ReleaseEnvironmentLock drops the advisory lock. Releasing a lock held
// by a different attempt is a no-op.
func (db *DB) ReleaseEnvironmentLock(environment, holder string) error {
	_, err := db.Exec(`DELETE FROM env_locks WHERE environment = ? AND holder = ?`, environment, holder)
	if err != nil {
		return fmt.Errorf("failed to release environment lock: %w", err)
	}
	return nil
}

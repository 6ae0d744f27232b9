package backup

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/oklog/ulid"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/runtime"
	"github.com/stagehand-sh/stagehand/internal/stack"
)

// SnapshotError means the pre-deploy snapshot could not be taken. It is
// always fatal to the attempt and never triggers a rollback, because
// nothing has been mutated yet.
type SnapshotError struct {
	AttemptID string
	Cause     error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot failed for attempt %s: %v", e.AttemptID, e.Cause)
}

func (e *SnapshotError) Unwrap() error { return e.Cause }

// Manager takes the point-in-time snapshot every attempt records before
// its first destructive action.
type Manager struct {
	store          *db.DB
	rt             runtime.Runtime
	descriptorPath string
}

func NewManager(store *db.DB, rt runtime.Runtime, descriptorPath string) *Manager {
	return &Manager{store: store, rt: rt, descriptorPath: descriptorPath}
}

// Snapshot reads the live deployment descriptor and unit inventory and
// records them durably under a unique ID before any mutating step runs.
// The ledger's current tag is captured as the backup's previous tag.
func (m *Manager) Snapshot(ctx context.Context, attempt db.Attempt) (db.Backup, error) {
	logger := logging.Ctx(ctx)

	_, raw, err := stack.Load(m.descriptorPath)
	if err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: err}
	}

	liveInventory, err := m.rt.Inventory(ctx)
	if err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: fmt.Errorf("inventory query failed: %w", err)}
	}
	// Copy the inventory so the backup owns its record outright.
	var inventory []runtime.UnitState
	if err := copier.Copy(&inventory, &liveInventory); err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: fmt.Errorf("failed to copy inventory: %w", err)}
	}
	inventoryJSON, err := json.Marshal(inventory)
	if err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: fmt.Errorf("failed to encode inventory: %w", err)}
	}

	ledger, err := m.store.GetLedger(attempt.Environment)
	if err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: err}
	}

	now := time.Now()
	record := db.Backup{
		ID:          backupID(attempt.ID, now),
		AttemptID:   attempt.ID,
		PreviousTag: ledger.CurrentTag,
		Descriptor:  raw,
		Inventory:   inventoryJSON,
		CreatedAt:   now,
	}
	if err := m.store.SaveBackup(record); err != nil {
		return db.Backup{}, &SnapshotError{AttemptID: attempt.ID, Cause: err}
	}

	logger.Info().
		Str("backup", record.ID).
		Str("previousTag", record.PreviousTag).
		Int("units", len(inventory)).
		Msg("Snapshot recorded")
	return record, nil
}

// backupID combines the attempt ID with a ULID so retried attempts can
// never collide on backup IDs.
func backupID(attemptID string, now time.Time) string {
	return fmt.Sprintf("%s-%s", attemptID, ulid.MustNew(ulid.Timestamp(now), rand.Reader))
}

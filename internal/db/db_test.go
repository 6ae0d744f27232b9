package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestAttemptLifecycle(t *testing.T) {
	database := newTestDB(t)

	attempt := Attempt{
		ID:          "20260830120000",
		Environment: "production",
		TargetTag:   "42",
		State:       StatePending,
		StartedAt:   time.Now(),
	}
	require.NoError(t, database.SaveAttempt(attempt))

	require.NoError(t, database.UpdateAttemptState(attempt.ID, StateDeploying, ""))
	got, err := database.GetAttempt(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDeploying, got.State)
	assert.Nil(t, got.EndedAt)

	require.NoError(t, database.UpdateAttemptState(attempt.ID, StateSucceeded, ""))
	got, err = database.GetAttempt(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, got.State)
	require.NotNil(t, got.EndedAt, "terminal states record the end timestamp")

	_, err = database.GetAttempt("nope")
	assert.ErrorContains(t, err, "not found")
}

func TestAttemptHistoryOrder(t *testing.T) {
	database := newTestDB(t)

	for _, id := range []string{"20260830120000", "20260830120005", "20260830120010"} {
		require.NoError(t, database.SaveAttempt(Attempt{
			ID: id, Environment: "production", TargetTag: "1", State: StateFailed, StartedAt: time.Now(),
		}))
	}
	require.NoError(t, database.SaveAttempt(Attempt{
		ID: "20260830120001", Environment: "staging", TargetTag: "1", State: StateFailed, StartedAt: time.Now(),
	}))

	attempts, err := database.GetAttemptHistory("production", 2)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "20260830120010", attempts[0].ID, "newest first")
	assert.Equal(t, "20260830120005", attempts[1].ID)
}

func TestBackupOnePerAttempt(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.SaveAttempt(Attempt{
		ID: "a1", Environment: "production", TargetTag: "42", State: StateBackingUp, StartedAt: time.Now(),
	}))

	inventory, _ := json.Marshal([]map[string]string{{"name": "products"}})
	backup := Backup{
		ID:          "a1-01J0000000000000000000AB",
		AttemptID:   "a1",
		PreviousTag: "41",
		Descriptor:  []byte("units: []"),
		Inventory:   inventory,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, database.SaveBackup(backup))

	// Exactly one backup per attempt: a second insert violates the
	// unique constraint.
	dup := backup
	dup.ID = "a1-01J0000000000000000000CD"
	assert.Error(t, database.SaveBackup(dup))

	got, err := database.GetBackupForAttempt("a1")
	require.NoError(t, err)
	assert.Equal(t, backup.ID, got.ID)
	assert.Equal(t, "41", got.PreviousTag)
	assert.Equal(t, []byte("units: []"), got.Descriptor)

	latest, err := database.GetLatestBackup()
	require.NoError(t, err)
	assert.Equal(t, backup.ID, latest.ID)

	_, err = database.GetBackupForAttempt("missing")
	assert.ErrorContains(t, err, "not found")
}

func TestLedgerReadWrite(t *testing.T) {
	database := newTestDB(t)

	// Before the first deployment the ledger is empty, not an error.
	ledger, err := database.GetLedger("production")
	require.NoError(t, err)
	assert.Empty(t, ledger.CurrentTag)
	assert.Empty(t, ledger.StableTag)

	require.NoError(t, database.SetLedger(VersionLedger{
		Environment: "production", CurrentTag: "42", StableTag: "42",
	}))
	ledger, err = database.GetLedger("production")
	require.NoError(t, err)
	assert.Equal(t, "42", ledger.CurrentTag)
	assert.Equal(t, "42", ledger.StableTag)

	// Rollback moves current back without touching stable.
	ledger.CurrentTag = "41"
	require.NoError(t, database.SetLedger(ledger))
	ledger, err = database.GetLedger("production")
	require.NoError(t, err)
	assert.Equal(t, "41", ledger.CurrentTag)
	assert.Equal(t, "42", ledger.StableTag)
}

func TestEnvironmentLock(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AcquireEnvironmentLock(ctx, "production", "a1", time.Second))

	// A second holder times out with EnvironmentBusy.
	err := database.AcquireEnvironmentLock(ctx, "production", "a2", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEnvironmentBusy)

	// Another environment is unaffected.
	require.NoError(t, database.AcquireEnvironmentLock(ctx, "staging", "a2", time.Second))

	// Releasing with the wrong holder is a no-op.
	require.NoError(t, database.ReleaseEnvironmentLock("production", "a2"))
	err = database.AcquireEnvironmentLock(ctx, "production", "a3", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEnvironmentBusy)

	require.NoError(t, database.ReleaseEnvironmentLock("production", "a1"))
	require.NoError(t, database.AcquireEnvironmentLock(ctx, "production", "a3", time.Second))
}

func TestRollbackReport(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.SaveAttempt(Attempt{
		ID: "a1", Environment: "production", TargetTag: "42", State: StateRollingBack, StartedAt: time.Now(),
	}))
	require.NoError(t, database.SaveBackup(Backup{
		ID: "a1-b", AttemptID: "a1", PreviousTag: "41",
		Descriptor: []byte("units: []"), Inventory: json.RawMessage(`[]`), CreatedAt: time.Now(),
	}))

	report := RollbackReport{
		AttemptID:   "a1",
		BackupID:    "a1-b",
		FailedTag:   "42",
		RestoredTag: "41",
		Inventory:   json.RawMessage(`[{"name":"products"}]`),
		Cause:       "units not healthy after 2m0s: media, users",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, database.SaveRollbackReport(report))

	got, err := database.GetRollbackReport("a1")
	require.NoError(t, err)
	assert.Equal(t, "42", got.FailedTag)
	assert.Equal(t, "41", got.RestoredTag)
	assert.Contains(t, got.Cause, "not healthy")

	_, err = database.GetRollbackReport("missing")
	assert.ErrorContains(t, err, "no rollback report")
}

package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/executor"
	"github.com/stagehand-sh/stagehand/internal/runtime"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/verify"
)

// fakeRuntime tracks the running tag and answers health per tag, so a
// restore to the previous tag can be observed end to end.
type fakeRuntime struct {
	runtime.Runtime

	runningTag  string
	healthyTags map[string]bool
	pullErr     map[string]error
	startCalls  int
	pulled      []string
}

func (f *fakeRuntime) Stop(ctx context.Context, unit string) error   { return nil }
func (f *fakeRuntime) Remove(ctx context.Context, unit string) error { return nil }

func (f *fakeRuntime) Pull(ctx context.Context, imageRef string) error {
	f.pulled = append(f.pulled, imageRef)
	return f.pullErr[imageRef]
}

func (f *fakeRuntime) Start(ctx context.Context, desc stack.Descriptor, tag string) error {
	f.startCalls++
	f.runningTag = tag
	return nil
}

func (f *fakeRuntime) InspectHealth(ctx context.Context, unit string) (runtime.Health, error) {
	if f.healthyTags[f.runningTag] {
		return runtime.Healthy, nil
	}
	return runtime.Unhealthy, nil
}

const backupDescriptor = `units:
  - name: products
    image: acme/products
`

func newController(t *testing.T, rt *fakeRuntime) (*Controller, *db.DB) {
	t.Helper()
	store, err := db.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exec := executor.New(rt, "")
	verifier := verify.New(rt, time.Millisecond, 50*time.Millisecond)
	return New(store, exec, verifier), store
}

func seedAttempt(t *testing.T, store *db.DB) (db.Attempt, db.Backup) {
	t.Helper()
	attempt := db.Attempt{ID: "a1", Environment: "production", TargetTag: "42", State: db.StateRollingBack, StartedAt: time.Now()}
	require.NoError(t, store.SaveAttempt(attempt))
	bkp := db.Backup{
		ID: "a1-b", AttemptID: "a1", PreviousTag: "41",
		Descriptor: []byte(backupDescriptor),
		Inventory:  json.RawMessage(`[{"name":"products","image_ref":"acme/products:41"}]`),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.SaveBackup(bkp))
	return attempt, bkp
}

func TestRollbackRestoresPreviousTag(t *testing.T) {
	rt := &fakeRuntime{runningTag: "42", healthyTags: map[string]bool{"41": true}}
	ctrl, store := newController(t, rt)
	attempt, bkp := seedAttempt(t, store)
	original := errors.New("units not healthy after 2m0s: products")

	require.NoError(t, ctrl.Rollback(context.Background(), attempt, bkp, original))

	assert.Equal(t, "41", rt.runningTag, "the backup's previous tag is running again")
	assert.Equal(t, []string{"acme/products:41"}, rt.pulled)

	report, err := store.GetRollbackReport("a1")
	require.NoError(t, err)
	assert.Equal(t, "42", report.FailedTag)
	assert.Equal(t, "41", report.RestoredTag)
	assert.Equal(t, original.Error(), report.Cause)
	assert.Equal(t, bkp.ID, report.BackupID)
}

func TestRollbackWithoutPreviousTagFails(t *testing.T) {
	rt := &fakeRuntime{healthyTags: map[string]bool{}}
	ctrl, store := newController(t, rt)
	attempt, bkp := seedAttempt(t, store)
	bkp.PreviousTag = ""

	err := ctrl.Rollback(context.Background(), attempt, bkp, errors.New("pull failed"))

	var failed *Failed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "a1", failed.AttemptID)
	assert.ErrorContains(t, failed.Original, "pull failed")
	assert.Zero(t, rt.startCalls, "nothing is deployed without a restore target")
}

func TestRollbackDeployFailureIsNotRetried(t *testing.T) {
	rt := &fakeRuntime{
		healthyTags: map[string]bool{"41": true},
		pullErr:     map[string]error{"acme/products:41": errors.New("registry down")},
	}
	ctrl, store := newController(t, rt)
	attempt, bkp := seedAttempt(t, store)

	err := ctrl.Rollback(context.Background(), attempt, bkp, errors.New("start failed"))

	var failed *Failed
	require.ErrorAs(t, err, &failed)
	var pullErr *executor.PullError
	assert.ErrorAs(t, failed.Cause, &pullErr)
	assert.Equal(t, []string{"acme/products:41"}, rt.pulled, "exactly one restore attempt")

	// No report is written for a failed restore.
	_, reportErr := store.GetRollbackReport("a1")
	assert.Error(t, reportErr)
}

func TestRollbackUnhealthyRestoreFails(t *testing.T) {
	rt := &fakeRuntime{healthyTags: map[string]bool{}}
	ctrl, store := newController(t, rt)
	attempt, bkp := seedAttempt(t, store)

	err := ctrl.Rollback(context.Background(), attempt, bkp, errors.New("start failed"))

	var failed *Failed
	require.ErrorAs(t, err, &failed)
	var timeoutErr *verify.ReadinessTimeout
	assert.ErrorAs(t, failed.Cause, &timeoutErr)
	assert.Equal(t, 1, rt.startCalls, "the restore is attempted once, never retried")
}

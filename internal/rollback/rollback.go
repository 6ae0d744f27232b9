package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/executor"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/verify"
)

// Failed is terminal: the environment could not be restored and a human
// has to intervene. It carries both the restore error and the original
// failure that triggered the rollback, and it is never retried
// automatically.
type Failed struct {
	AttemptID string
	Cause     error
	Original  error
}

func (e *Failed) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("rollback failed for attempt %s: %v (original failure: %v)", e.AttemptID, e.Cause, e.Original)
	}
	return fmt.Sprintf("rollback failed for attempt %s: %v", e.AttemptID, e.Cause)
}

func (e *Failed) Unwrap() error { return e.Cause }

// Controller restores a backup after a failed deploy or verification:
// redeploy the saved descriptor at the backup's previous tag, re-verify
// health, and write a rollback report. Any internal failure surfaces as
// Failed without a second attempt, to avoid rollback thrashing.
type Controller struct {
	store    *db.DB
	exec     *executor.Executor
	verifier *verify.Verifier
}

func New(store *db.DB, exec *executor.Executor, verifier *verify.Verifier) *Controller {
	return &Controller{store: store, exec: exec, verifier: verifier}
}

// Rollback restores exactly the backup it is given. original is the
// failure that put the attempt on this path; it ends up in the report
// and in the error chain when restoring fails too.
func (c *Controller) Rollback(ctx context.Context, attempt db.Attempt, bkp db.Backup, original error) error {
	logger := logging.Ctx(ctx)
	logger.Warn().
		Str("backup", bkp.ID).
		Str("restoreTag", bkp.PreviousTag).
		Msg("Rolling back to previous release")

	if bkp.PreviousTag == "" {
		return &Failed{
			AttemptID: attempt.ID,
			Cause:     fmt.Errorf("backup %s has no previous tag to restore (first deployment?)", bkp.ID),
			Original:  original,
		}
	}

	desc, err := stack.Parse(bkp.Descriptor)
	if err != nil {
		return &Failed{AttemptID: attempt.ID, Cause: fmt.Errorf("backup descriptor is corrupt: %w", err), Original: original}
	}

	if err := c.exec.Deploy(ctx, desc, bkp.PreviousTag); err != nil {
		return &Failed{AttemptID: attempt.ID, Cause: err, Original: original}
	}

	if err := c.verifier.WaitHealthy(ctx, desc.UnitNames()); err != nil {
		return &Failed{AttemptID: attempt.ID, Cause: err, Original: original}
	}

	report := db.RollbackReport{
		AttemptID:   attempt.ID,
		BackupID:    bkp.ID,
		FailedTag:   attempt.TargetTag,
		RestoredTag: bkp.PreviousTag,
		Inventory:   bkp.Inventory,
		Cause:       original.Error(),
		CreatedAt:   time.Now(),
	}
	if err := c.store.SaveRollbackReport(report); err != nil {
		return &Failed{AttemptID: attempt.ID, Cause: err, Original: original}
	}

	logger.Info().
		Str("failedTag", attempt.TargetTag).
		Str("restoredTag", bkp.PreviousTag).
		Msg("Rollback complete, report recorded")
	return nil
}

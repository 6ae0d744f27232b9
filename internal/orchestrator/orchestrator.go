package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-sh/stagehand/internal/backup"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/executor"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/rollback"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/verify"
)

// Orchestrator drives one deployment attempt through its state machine:
//
//	PENDING → BACKING_UP → DEPLOYING → VERIFYING → SUCCEEDED
//
// with failure edges from BACKING_UP (straight to FAILED, nothing was
// mutated), and from DEPLOYING/VERIFYING into ROLLING_BACK, which
// resolves to ROLLED_BACK or ROLLBACK_FAILED. It is the sole decision
// point for invoking rollback; ROLLBACK_FAILED is never retried.
type Orchestrator struct {
	store       *db.DB
	backups     *backup.Manager
	exec        *executor.Executor
	verifier    *verify.Verifier
	rollbacks   *rollback.Controller
	environment string
	lockWait    time.Duration
}

func New(store *db.DB, backups *backup.Manager, exec *executor.Executor, verifier *verify.Verifier, rollbacks *rollback.Controller, environment string, lockWait time.Duration) *Orchestrator {
	return &Orchestrator{
		store:       store,
		backups:     backups,
		exec:        exec,
		verifier:    verifier,
		rollbacks:   rollbacks,
		environment: environment,
		lockWait:    lockWait,
	}
}

// CreateAttemptID generates a monotonic, sortable attempt identifier
// based on the current time.
func CreateAttemptID() string {
	return time.Now().Format("20060102150405")
}

// Run executes one deployment attempt end to end and returns the
// attempt in its terminal state. The returned error is the terminal
// failure cause, nil only for SUCCEEDED.
//
// The environment lock is held from BACKING_UP through the terminal
// state, so no two attempts can mutate the same environment
// concurrently. A lock that cannot be taken within the configured wait
// surfaces as db.ErrEnvironmentBusy.
func (o *Orchestrator) Run(ctx context.Context, attemptID, targetTag string) (db.Attempt, error) {
	logger := logging.Ctx(ctx)

	attempt := db.Attempt{
		ID:          attemptID,
		Environment: o.environment,
		TargetTag:   targetTag,
		State:       db.StatePending,
		StartedAt:   time.Now(),
	}
	if err := o.store.SaveAttempt(attempt); err != nil {
		return attempt, err
	}

	if err := o.store.AcquireEnvironmentLock(ctx, o.environment, attempt.ID, o.lockWait); err != nil {
		o.finalize(ctx, &attempt, db.StateFailed, err)
		return attempt, err
	}
	defer func() {
		if err := o.store.ReleaseEnvironmentLock(o.environment, attempt.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to release environment lock")
		}
	}()

	// BACKING_UP: the backup must be durably recorded before anything
	// destructive happens. A snapshot failure is terminal without
	// rollback.
	o.transition(ctx, &attempt, db.StateBackingUp)
	bkp, err := o.backups.Snapshot(ctx, attempt)
	if err != nil {
		o.finalize(ctx, &attempt, db.StateFailed, err)
		return attempt, err
	}

	// The deploy and the rollback both work from the snapshotted
	// descriptor, so what gets restored is exactly what was replaced.
	desc, err := stack.Parse(bkp.Descriptor)
	if err != nil {
		o.finalize(ctx, &attempt, db.StateFailed, err)
		return attempt, err
	}

	o.transition(ctx, &attempt, db.StateDeploying)
	if err := o.exec.Deploy(ctx, desc, targetTag); err != nil {
		return o.rollBack(ctx, attempt, bkp, err)
	}

	o.transition(ctx, &attempt, db.StateVerifying)
	if err := o.verifier.WaitHealthy(ctx, desc.UnitNames()); err != nil {
		return o.rollBack(ctx, attempt, bkp, err)
	}

	ledger := db.VersionLedger{
		Environment: o.environment,
		CurrentTag:  targetTag,
		StableTag:   targetTag,
	}
	if err := o.store.SetLedger(ledger); err != nil {
		// The stack is live but the ledger write failed; surface it
		// rather than reporting a clean success.
		return o.rollBack(ctx, attempt, bkp, err)
	}

	o.finalize(ctx, &attempt, db.StateSucceeded, nil)
	logger.Info().Str("tag", targetTag).Msg("Deployment succeeded")
	return attempt, nil
}

// rollBack restores the attempt's backup. It runs detached from the
// caller's cancellation: an externally aborted attempt still gets its
// environment restored.
func (o *Orchestrator) rollBack(ctx context.Context, attempt db.Attempt, bkp db.Backup, cause error) (db.Attempt, error) {
	logger := logging.Ctx(ctx)
	logger.Error().Err(cause).Msg("Deployment failed, starting rollback")

	attempt.State = db.StateRollingBack
	if err := o.store.UpdateAttemptState(attempt.ID, db.StateRollingBack, cause.Error()); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist attempt state")
	}

	rbCtx := context.WithoutCancel(ctx)
	if err := o.rollbacks.Rollback(rbCtx, attempt, bkp, cause); err != nil {
		o.finalize(ctx, &attempt, db.StateRollbackFailed, err)
		return attempt, err
	}

	// The previous release is running again; the ledger's current tag
	// moves back, the stable tag is untouched.
	ledger, err := o.store.GetLedger(o.environment)
	if err == nil {
		ledger.CurrentTag = bkp.PreviousTag
		err = o.store.SetLedger(ledger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to update ledger after rollback")
	}

	o.finalize(ctx, &attempt, db.StateRolledBack, cause)
	return attempt, cause
}

func (o *Orchestrator) transition(ctx context.Context, attempt *db.Attempt, state string) {
	attempt.State = state
	if err := o.store.UpdateAttemptState(attempt.ID, state, ""); err != nil {
		// State persistence is best-effort during a live attempt; the
		// in-memory state machine stays authoritative.
		logging.Ctx(ctx).Warn().Err(err).Str("state", state).Msg("Failed to persist attempt state")
	}
}

func (o *Orchestrator) finalize(ctx context.Context, attempt *db.Attempt, state string, cause error) {
	attempt.State = state
	failure := ""
	if cause != nil {
		failure = cause.Error()
	}
	attempt.Failure = failure
	now := time.Now()
	attempt.EndedAt = &now
	if err := o.store.UpdateAttemptState(attempt.ID, state, failure); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("state", state).Msg("Failed to persist terminal attempt state")
	}
}

// RollbackTo restores a recorded backup outside a failing deploy, the
// operator-invoked rollback path. It runs as its own attempt under the
// environment lock and finalizes in ROLLED_BACK or ROLLBACK_FAILED.
func (o *Orchestrator) RollbackTo(ctx context.Context, attemptID string, bkp db.Backup) (db.Attempt, error) {
	ledger, err := o.store.GetLedger(o.environment)
	if err != nil {
		return db.Attempt{}, err
	}

	attempt := db.Attempt{
		ID:          attemptID,
		Environment: o.environment,
		TargetTag:   ledger.CurrentTag,
		State:       db.StatePending,
		StartedAt:   time.Now(),
	}
	if err := o.store.SaveAttempt(attempt); err != nil {
		return attempt, err
	}

	if err := o.store.AcquireEnvironmentLock(ctx, o.environment, attempt.ID, o.lockWait); err != nil {
		o.finalize(ctx, &attempt, db.StateFailed, err)
		return attempt, err
	}
	defer o.store.ReleaseEnvironmentLock(o.environment, attempt.ID)

	cause := fmt.Errorf("manual rollback to backup %s requested", bkp.ID)
	return o.rollBack(ctx, attempt, bkp, cause)
}

// Report renders a human-readable terminal report for an attempt.
func Report(attempt db.Attempt) string {
	report := fmt.Sprintf("attempt %s (environment %s, target tag %s) ended in %s",
		attempt.ID, attempt.Environment, attempt.TargetTag, attempt.State)
	if attempt.Failure != "" {
		report += fmt.Sprintf("\ncause: %s", attempt.Failure)
	}
	if attempt.State == db.StateRollbackFailed {
		report += "\nROLLBACK FAILED: manual intervention required, no automatic retry will happen"
	}
	return report
}

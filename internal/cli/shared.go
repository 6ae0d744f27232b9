package cli

import (
	"context"
	"errors"
	"os"

	"github.com/stagehand-sh/stagehand/internal/backup"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/executor"
	"github.com/stagehand-sh/stagehand/internal/orchestrator"
	"github.com/stagehand-sh/stagehand/internal/rollback"
	"github.com/stagehand-sh/stagehand/internal/runtime"
	"github.com/stagehand-sh/stagehand/internal/verify"
)

// pipeline bundles everything a deploy or rollback run needs.
type pipeline struct {
	cfg   *config.Config
	store *db.DB
	rt    *runtime.DockerRuntime
	orch  *orchestrator.Orchestrator
}

// newPipeline wires the orchestrator against the local Docker daemon and
// the state database.
func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	store, err := db.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	rt, err := runtime.NewDockerRuntime(ctx, cfg.Environment, cfg.Registry)
	if err != nil {
		store.Close()
		return nil, err
	}

	exec := executor.New(rt, cfg.Registry)
	verifier := verify.New(rt, cfg.Readiness.Interval, cfg.Readiness.Timeout)
	backups := backup.NewManager(store, rt, cfg.Descriptor)
	rollbacks := rollback.New(store, exec, verifier)
	orch := orchestrator.New(store, backups, exec, verifier, rollbacks, cfg.Environment, cfg.LockWait)

	return &pipeline{cfg: cfg, store: store, rt: rt, orch: orch}, nil
}

func (p *pipeline) close() {
	p.rt.Close()
	p.store.Close()
}

// exitCode maps a terminal attempt to the deploy command's exit code.
// ROLLBACK_FAILED gets its own, highest-severity code so alerting can
// key on it.
func exitCode(attempt db.Attempt, err error) int {
	switch attempt.State {
	case db.StateSucceeded:
		return constants.ExitSucceeded
	case db.StateRollbackFailed:
		return constants.ExitRollbackFailed
	}
	if errors.Is(err, db.ErrEnvironmentBusy) {
		return constants.ExitBusy
	}
	return constants.ExitFailed
}

// tokenFromEnv reads a collaborator token from the configured env var.
func tokenFromEnv(envVar string) string {
	return os.Getenv(envVar)
}

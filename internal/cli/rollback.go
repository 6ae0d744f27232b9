package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/orchestrator"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func RollbackCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [attempt-id]",
		Short: "Restore the backup of a previous attempt",
		Long: `Rollback restores the snapshot taken by the named attempt (default:
the most recent backup): redeploy the saved descriptor at its previous
tag and verify the restored stack.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			targetAttemptID := ""
			if len(args) > 0 {
				targetAttemptID = args[0]
			}
			os.Exit(runRollback(cmd.Context(), flags.configPath, targetAttemptID))
		},
	}
	return cmd
}

func runRollback(ctx context.Context, configPath, targetAttemptID string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}

	attemptID := orchestrator.CreateAttemptID()
	level := logging.ParseLevel(cfg.LogLevel)
	logger, closeLog, err := logging.NewAttemptLogger(level, true, cfg.StateDir, attemptID)
	if err != nil {
		logger = logging.New(level, true)
	} else {
		defer closeLog()
	}
	ctx = logging.WithLogger(ctx, logger)

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}
	defer p.close()

	var bkp db.Backup
	if targetAttemptID != "" {
		bkp, err = p.store.GetBackupForAttempt(targetAttemptID)
	} else {
		bkp, err = p.store.GetLatestBackup()
	}
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}

	attempt, rbErr := p.orch.RollbackTo(ctx, attemptID, bkp)
	switch attempt.State {
	case db.StateRolledBack:
		ui.Success("Restored tag %s from backup %s", bkp.PreviousTag, bkp.ID)
		return constants.ExitSucceeded
	case db.StateRollbackFailed:
		ui.Error("%s", orchestrator.Report(attempt))
		return constants.ExitRollbackFailed
	default:
		ui.Error("%s", orchestrator.Report(attempt))
		return exitCode(attempt, rbErr)
	}
}

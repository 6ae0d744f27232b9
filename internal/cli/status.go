package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func StatusCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current and stable tags and recent attempts",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			store, err := db.New(cfg.StateDir)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			defer store.Close()

			ledger, err := store.GetLedger(cfg.Environment)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}

			if ledger.CurrentTag == "" {
				ui.Info("Environment %s has never been deployed", cfg.Environment)
				return
			}
			ui.Info("Environment:  %s", ledger.Environment)
			ui.Info("Current tag:  %s", ledger.CurrentTag)
			ui.Info("Stable tag:   %s", ledger.StableTag)

			attempts, err := store.GetAttemptHistory(cfg.Environment, 5)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			if len(attempts) > 0 {
				ui.Info("Recent attempts:")
				printAttempts(attempts)
			}
		},
	}
	return cmd
}

func printAttempts(attempts []db.Attempt) {
	for _, a := range attempts {
		line := a.ID + "  " + a.TargetTag + "  " + a.State
		switch a.State {
		case db.StateSucceeded:
			ui.Success("  %s", line)
		case db.StateRollbackFailed:
			ui.Error("  %s  (manual intervention required)", line)
		case db.StateRolledBack, db.StateFailed:
			ui.Warn("  %s", line)
		default:
			ui.Info("  %s", line)
		}
	}
}

package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/helpers"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func HistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past deployment attempts and their rollback reports",
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

			attempts, err := store.GetAttemptHistory(cfg.Environment, limit)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			if len(attempts) == 0 {
				ui.Info("No attempts recorded for environment %s", cfg.Environment)
				return
			}
			printAttempts(attempts)

			for _, a := range attempts {
				if a.State != db.StateRolledBack {
					continue
				}
				report, err := store.GetRollbackReport(a.ID)
				if err != nil {
					continue
				}
				ui.Info("  rollback %s: failed tag %s restored to %s (backup %s)",
					a.ID, report.FailedTag, report.RestoredTag, helpers.SafeIDPrefix(report.BackupID))
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of attempts to show")
	return cmd
}

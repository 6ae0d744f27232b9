package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/gate"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func GateCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run the quality gate alone",
		Long: `Gate fetches the analysis verdict for every unit and applies the
threshold policy: at most one FAILED unit passes, two or more fail.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			if cfg.Gate.URL == "" {
				ui.Error("No gate url configured")
				os.Exit(constants.ExitFailed)
			}

			desc, _, err := stack.Load(cfg.Descriptor)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}

			logger := logging.New(logging.ParseLevel(cfg.LogLevel), true)
			ctx := logging.WithLogger(cmd.Context(), logger)

			decision, results := runGate(ctx, cfg, desc.UnitNames())
			printVerdicts(results)
			if decision != gate.DecisionPass {
				ui.Error("Quality gate FAILED")
				os.Exit(constants.ExitFailed)
			}
			ui.Success("Quality gate passed")
		},
	}
	return cmd
}

package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func ValidateCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the stagehand config and stack descriptor",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}

			desc, _, err := stack.Load(cfg.Descriptor)
			if err != nil {
				ui.Error("%v", err)
				os.Exit(constants.ExitFailed)
			}
			if err := desc.Validate(); err != nil {
				ui.Error("Invalid stack descriptor: %v", err)
				os.Exit(constants.ExitFailed)
			}

			ui.Success("Config and stack descriptor are valid (%d units)", len(desc.Units))
		},
	}
	return cmd
}

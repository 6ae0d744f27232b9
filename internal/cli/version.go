package cli

import (
	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/ui"
)

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stagehand version",
		Run: func(cmd *cobra.Command, args []string) {
			ui.Info("stagehand %s", constants.Version)
		},
	}
}

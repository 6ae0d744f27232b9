package cli

import (
	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
)

// rootFlags holds the values for flags shared by all commands.
type rootFlags struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "stagehand releases a container stack with quality gating, versioned backups, and automatic rollback",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnvFiles(flags.configPath)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file or directory (default: .)")

	cmd.AddCommand(
		DeployCmd(flags),
		RollbackCmd(flags),
		GateCmd(flags),
		StatusCmd(flags),
		HistoryCmd(flags),
		ValidateCmd(flags),
		VersionCmd(),
	)

	return cmd
}

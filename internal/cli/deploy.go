package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/constants"
	"github.com/stagehand-sh/stagehand/internal/db"
	"github.com/stagehand-sh/stagehand/internal/gate"
	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/orchestrator"
	"github.com/stagehand-sh/stagehand/internal/stack"
	"github.com/stagehand-sh/stagehand/internal/ui"
	"github.com/stagehand-sh/stagehand/internal/vcs"
)

func DeployCmd(flags *rootFlags) *cobra.Command {
	var (
		commitID   string
		detailsURL string
		buildID    string
		skipGate   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <tag>",
		Short: "Deploy the stack at a target tag",
		Long: `Deploy runs one full release attempt: quality gate, pre-deploy
snapshot, stop-then-start cutover, and readiness verification. Any
failure after the snapshot rolls back to the snapshotted release.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runDeploy(cmd.Context(), flags.configPath, args[0], commitID, detailsURL, buildID, skipGate))
		},
	}

	cmd.Flags().StringVar(&commitID, "commit", "", "Commit ID to report the terminal outcome to")
	cmd.Flags().StringVar(&detailsURL, "details-url", "", "URL attached to the reported commit status")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Use a caller-supplied monotonic build ID as attempt ID")
	cmd.Flags().BoolVar(&skipGate, "skip-gate", false, "Skip the quality gate")

	return cmd
}

func runDeploy(ctx context.Context, configPath, targetTag, commitID, detailsURL, buildID string, skipGate bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}

	attemptID := buildID
	if attemptID == "" {
		attemptID = orchestrator.CreateAttemptID()
	}

	level := logging.ParseLevel(cfg.LogLevel)
	logger, closeLog, err := logging.NewAttemptLogger(level, true, cfg.StateDir, attemptID)
	if err != nil {
		logger = logging.New(level, true)
		logger.Warn().Err(err).Msg("Attempt log file unavailable, logging to console only")
	} else {
		defer closeLog()
	}
	ctx = logging.WithLogger(ctx, logger)

	if err := logging.CleanOldLogs(cfg.StateDir, constants.DefaultLogRetentionDays); err != nil {
		logger.Debug().Err(err).Msg("Attempt log cleanup skipped")
	}

	desc, _, err := stack.Load(cfg.Descriptor)
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}
	if err := desc.Validate(); err != nil {
		ui.Error("Invalid stack descriptor: %v", err)
		return constants.ExitFailed
	}

	// The gate decision precedes the attempt; only a PASS lets the
	// state machine leave PENDING.
	if !skipGate && cfg.Gate.URL != "" {
		decision, results := runGate(ctx, cfg, desc.UnitNames())
		if decision != gate.DecisionPass {
			ui.Error("Quality gate FAILED for tag %s", targetTag)
			printVerdicts(results)
			reportStatus(ctx, cfg, commitID, vcs.StateFailure, "quality gate failed", detailsURL)
			return constants.ExitFailed
		}
		ui.Success("Quality gate passed")
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		ui.Error("%v", err)
		return constants.ExitFailed
	}
	defer p.close()

	attempt, runErr := p.orch.Run(ctx, attemptID, targetTag)

	// The terminal outcome is reported regardless of which path the
	// attempt took; reporting failures never change the outcome.
	state := vcs.StateFailure
	if attempt.State == db.StateSucceeded {
		state = vcs.StateSuccess
	}
	reportStatus(ctx, cfg, commitID, state, orchestrator.Report(attempt), detailsURL)

	switch attempt.State {
	case db.StateSucceeded:
		ui.Success("%s", orchestrator.Report(attempt))
	case db.StateRolledBack:
		ui.Warn("%s", orchestrator.Report(attempt))
	default:
		ui.Error("%s", orchestrator.Report(attempt))
	}
	return exitCode(attempt, runErr)
}

func runGate(ctx context.Context, cfg *config.Config, units []string) (gate.Decision, []gate.Result) {
	client := gate.NewClient(cfg.Gate.URL, tokenFromEnv(cfg.Gate.TokenEnv))
	agg := gate.NewAggregator(client.GetVerdict, cfg.Gate.Concurrency, cfg.Gate.Timeout)
	return agg.Decide(ctx, units)
}

func printVerdicts(results []gate.Result) {
	for _, r := range results {
		switch r.Status {
		case gate.StatusFailed:
			ui.Error("  %s: %s", r.UnitName, r.Status)
		case gate.StatusPassed:
			ui.Success("  %s: %s", r.UnitName, r.Status)
		default:
			ui.Info("  %s: %s", r.UnitName, r.Status)
		}
	}
}

// reportStatus pushes the outcome to the VCS status endpoint. Failures
// here are logged and swallowed: status reporting is never fatal to the
// pipeline.
func reportStatus(ctx context.Context, cfg *config.Config, commitID string, state vcs.State, description, detailsURL string) {
	if commitID == "" || cfg.VCS.URL == "" {
		return
	}
	reporter := vcs.NewReporter(cfg.VCS.URL, tokenFromEnv(cfg.VCS.TokenEnv))
	if err := reporter.SetCommitStatus(ctx, commitID, state, description, detailsURL); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to report commit status")
	}
}

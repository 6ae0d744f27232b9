package constants

import "os"

const (
	Version = "0.1.0"

	DefaultConfigFileName     = "stagehand.yaml"
	DefaultDescriptorFileName = "stack.yaml"
	ConfigEnvFileName         = ".env"

	DefaultStateDir    = "/var/lib/stagehand"
	LogsDirName        = "logs"
	DefaultEnvironment = "default"

	// Environment variables
	EnvVarGateToken = "STAGEHAND_GATE_TOKEN"
	EnvVarVCSToken  = "STAGEHAND_VCS_TOKEN"
	EnvVarStateDir  = "STAGEHAND_STATE_DIR"

	DefaultReadinessInterval = "2s"
	DefaultReadinessTimeout  = "120s"
	DefaultLockWait          = "30s"
	DefaultGateTimeout       = "30s"
	DefaultGateConcurrency   = 4

	DefaultLogRetentionDays = 30
)

// Exit codes for the deploy command. ExitRollbackFailed is the highest
// severity so alerting can key on it directly.
const (
	ExitSucceeded      = 0
	ExitFailed         = 1
	ExitBusy           = 2
	ExitRollbackFailed = 3
)

// File and directory permissions
const (
	ModeFileDefault os.FileMode = 0o644
	ModeDirDefault  os.FileMode = 0o755
)

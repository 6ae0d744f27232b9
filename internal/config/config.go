package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/stagehand-sh/stagehand/internal/constants"
)

// GateConfig configures the quality-analysis collaborator.
type GateConfig struct {
	URL         string        `yaml:"url" json:"url" toml:"url"`
	TokenEnv    string        `yaml:"token_env" json:"token_env" toml:"token_env"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" toml:"concurrency"`
}

// VCSConfig configures the commit-status collaborator.
type VCSConfig struct {
	URL      string `yaml:"url" json:"url" toml:"url"`
	TokenEnv string `yaml:"token_env" json:"token_env" toml:"token_env"`
}

// ReadinessConfig controls the post-deploy verification loop.
type ReadinessConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval" toml:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// Config is the orchestrator's own configuration, loaded from
// stagehand.yaml (or .json/.toml).
type Config struct {
	Environment string          `yaml:"environment" json:"environment" toml:"environment"`
	StateDir    string          `yaml:"state_dir" json:"state_dir" toml:"state_dir"`
	Descriptor  string          `yaml:"descriptor" json:"descriptor" toml:"descriptor"`
	Registry    string          `yaml:"registry" json:"registry" toml:"registry"`
	LogLevel    string          `yaml:"log_level" json:"log_level" toml:"log_level"`
	LockWait    time.Duration   `yaml:"lock_wait" json:"lock_wait" toml:"lock_wait"`
	Gate        GateConfig      `yaml:"gate" json:"gate" toml:"gate"`
	VCS         VCSConfig       `yaml:"vcs" json:"vcs" toml:"vcs"`
	Readiness   ReadinessConfig `yaml:"readiness" json:"readiness" toml:"readiness"`
}

// Normalize fills in defaults for anything the file left unset.
func (c *Config) Normalize() *Config {
	if c.Environment == "" {
		c.Environment = constants.DefaultEnvironment
	}
	if c.StateDir == "" {
		c.StateDir = os.Getenv(constants.EnvVarStateDir)
	}
	if c.StateDir == "" {
		c.StateDir = constants.DefaultStateDir
	}
	if c.Descriptor == "" {
		c.Descriptor = constants.DefaultDescriptorFileName
	}
	if c.LockWait == 0 {
		c.LockWait = mustDuration(constants.DefaultLockWait)
	}
	if c.Gate.Timeout == 0 {
		c.Gate.Timeout = mustDuration(constants.DefaultGateTimeout)
	}
	if c.Gate.Concurrency == 0 {
		c.Gate.Concurrency = constants.DefaultGateConcurrency
	}
	if c.Gate.TokenEnv == "" {
		c.Gate.TokenEnv = constants.EnvVarGateToken
	}
	if c.VCS.TokenEnv == "" {
		c.VCS.TokenEnv = constants.EnvVarVCSToken
	}
	if c.Readiness.Interval == 0 {
		c.Readiness.Interval = mustDuration(constants.DefaultReadinessInterval)
	}
	if c.Readiness.Timeout == 0 {
		c.Readiness.Timeout = mustDuration(constants.DefaultReadinessTimeout)
	}
	return c
}

func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment cannot be empty")
	}
	if c.Descriptor == "" {
		return fmt.Errorf("descriptor path cannot be empty")
	}
	if c.Gate.URL != "" {
		if err := validateURL(c.Gate.URL); err != nil {
			return fmt.Errorf("invalid gate url: %w", err)
		}
	}
	if c.VCS.URL != "" {
		if err := validateURL(c.VCS.URL); err != nil {
			return fmt.Errorf("invalid vcs url: %w", err)
		}
	}
	if c.Readiness.Interval <= 0 {
		return fmt.Errorf("readiness interval must be positive")
	}
	if c.Readiness.Timeout < c.Readiness.Interval {
		return fmt.Errorf("readiness timeout must be at least one interval")
	}
	if c.Gate.Concurrency < 1 {
		return fmt.Errorf("gate concurrency must be at least 1")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid default duration %q: %v", s, err))
	}
	return d
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-sh/stagehand/internal/constants"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "stagehand.yaml", `
environment: production
descriptor: stack.yaml
registry: ghcr.io
gate:
  url: https://gate.example.com
  timeout: 45s
  concurrency: 4
vcs:
  url: https://git.example.com
readiness:
  interval: 2s
  timeout: 3m
lock_wait: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "ghcr.io", cfg.Registry)
	assert.Equal(t, 45*time.Second, cfg.Gate.Timeout)
	assert.Equal(t, 4, cfg.Gate.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Readiness.Interval)
	assert.Equal(t, 3*time.Minute, cfg.Readiness.Timeout)
	assert.Equal(t, 30*time.Second, cfg.LockWait)

	// Relative descriptor paths resolve next to the config file.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "stack.yaml"), cfg.Descriptor)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "stagehand.yaml", `
environment: staging
`)

	t.Setenv(constants.EnvVarStateDir, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultStateDir, cfg.StateDir)
	assert.Equal(t, constants.EnvVarGateToken, cfg.Gate.TokenEnv)
	assert.Equal(t, constants.EnvVarVCSToken, cfg.VCS.TokenEnv)
	assert.Equal(t, constants.DefaultGateConcurrency, cfg.Gate.Concurrency)
	assert.Positive(t, cfg.Readiness.Interval)
	assert.GreaterOrEqual(t, cfg.Readiness.Timeout, cfg.Readiness.Interval)
	assert.Positive(t, cfg.LockWait)
}

func TestLoadStateDirFromEnv(t *testing.T) {
	path := writeConfig(t, "stagehand.yaml", "environment: staging\n")
	t.Setenv(constants.EnvVarStateDir, "/tmp/stagehand-test-state")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/stagehand-test-state", cfg.StateDir)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "stagehand.json", `{
  "environment": "production",
  "readiness": {"interval": "1s", "timeout": "1m"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, time.Minute, cfg.Readiness.Timeout)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "stagehand.toml", `
environment = "production"

[gate]
url = "https://gate.example.com"
timeout = "20s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gate.example.com", cfg.Gate.URL)
	assert.Equal(t, 20*time.Second, cfg.Gate.Timeout)
}

func TestLoadSearchesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stagehand.yml"), []byte("environment: production\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "no stagehand config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Environment: "production"}
		return c.Normalize()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "gate url must be http",
			mutate:  func(c *Config) { c.Gate.URL = "ftp://gate.example.com" },
			wantErr: "gate url",
		},
		{
			name:    "vcs url needs a host",
			mutate:  func(c *Config) { c.VCS.URL = "https://" },
			wantErr: "vcs url",
		},
		{
			name:    "readiness interval positive",
			mutate:  func(c *Config) { c.Readiness.Interval = -time.Second },
			wantErr: "interval must be positive",
		},
		{
			name: "timeout covers at least one poll",
			mutate: func(c *Config) {
				c.Readiness.Interval = 10 * time.Second
				c.Readiness.Timeout = time.Second
			},
			wantErr: "at least one interval",
		},
		{
			name:    "gate concurrency at least one",
			mutate:  func(c *Config) { c.Gate.Concurrency = 0 },
			wantErr: "concurrency",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

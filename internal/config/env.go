package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/stagehand-sh/stagehand/internal/constants"
)

// LoadEnvFiles attempts to load .env files from the working directory and
// next to the config file. Does not return an error - just loads what it
// can find.
func LoadEnvFiles(configPath string) {
	_ = godotenv.Load(constants.ConfigEnvFileName)

	if configPath != "" && configPath != "." {
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			configPath = filepath.Dir(configPath)
		}
		_ = godotenv.Load(filepath.Join(configPath, constants.ConfigEnvFileName))
	}
}

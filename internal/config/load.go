package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/stagehand-sh/stagehand/internal/constants"
)

// Load reads the orchestrator config file, applies defaults, and
// validates it. An empty path resolves to stagehand.yaml in the current
// directory.
func Load(path string) (*Config, error) {
	configFile, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}

	format, err := configFormat(configFile)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configFile), parserFor(format)); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	var cfg Config
	decoderConfig := &mapstructure.DecoderConfig{
		TagName:    format,
		Result:     &cfg,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	}
	unmarshalConf := koanf.UnmarshalConf{
		Tag:           format,
		DecoderConfig: decoderConfig,
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Descriptor paths are resolved relative to the config file.
	if !filepath.IsAbs(cfg.Descriptor) {
		cfg.Descriptor = filepath.Join(filepath.Dir(configFile), cfg.Descriptor)
	}

	return &cfg, nil
}

func findConfigFile(path string) (string, error) {
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("config path %s not found: %w", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, name := range []string{constants.DefaultConfigFileName, "stagehand.yml", "stagehand.json", "stagehand.toml"} {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no stagehand config file found in %s", path)
}

func configFormat(path string) (string, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("unsupported config format for %s (yaml, json, and toml are supported)", path)
	}
}

func parserFor(format string) koanf.Parser {
	switch format {
	case "json":
		return kjson.Parser()
	case "toml":
		return ktoml.Parser()
	default:
		return kyaml.Parser()
	}
}

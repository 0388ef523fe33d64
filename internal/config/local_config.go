package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from the file,
// bypassing the viper singleton. It is used when inspecting a project other
// than the one viper was initialized for.
type LocalConfig struct {
	Actor string `yaml:"actor"`
	JSON  bool   `yaml:"json"`
	PRD   struct {
		Metadata string `yaml:"metadata"`
		Dir      string `yaml:"dir"`
	} `yaml:"prd"`
	Tasks struct {
		File        string `yaml:"file"`
		FilePattern string `yaml:"file-pattern"`
	} `yaml:"tasks"`
	Archive struct {
		Dir string `yaml:"dir"`
	} `yaml:"archive"`
}

// LoadLocalConfig reads config.yaml from root's .taskmaster directory.
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(root string) *LocalConfig {
	configPath := filepath.Join(root, ConfigDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from project root
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv applies PRD_ACTOR on top of LoadLocalConfig.
func LoadLocalConfigWithEnv(root string) *LocalConfig {
	cfg := LoadLocalConfig(root)
	if actor := os.Getenv("PRD_ACTOR"); actor != "" {
		cfg.Actor = actor
	}
	return cfg
}

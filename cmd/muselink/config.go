package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file. Command-line flags always win;
// the file only supplies defaults for flags the user did not set.
type fileConfig struct {
	Address         string        `yaml:"address"`
	Aux             bool          `yaml:"aux"`
	Format          string        `yaml:"format" default:"plain"`
	ResponseTimeout time.Duration `yaml:"response_timeout" default:"5s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".muselink.yaml")
}

// loadConfig reads the config file at path, falling back to ~/.muselink.yaml.
// A missing file yields the defaults; a malformed file is an error.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	defaults.SetDefaults(cfg)

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if !validFormat(cfg.Format) {
		return nil, fmt.Errorf("invalid format %q in config %s", cfg.Format, path)
	}
	return cfg, nil
}

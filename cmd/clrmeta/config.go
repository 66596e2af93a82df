package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the clrmeta configuration file (~/.config/clrmeta/config.yaml).
type Config struct {
	// LogLevel is a zap level name. Empty disables logging unless -v is set.
	LogLevel string `yaml:"log_level"`

	// DumpLimit caps the rows printed by -dump when -limit is not given.
	DumpLimit *int `yaml:"dump_limit"`

	// Assemblies maps simple assembly names to metadata files for -resolve.
	Assemblies map[string]string `yaml:"assemblies"`

	IgnoreVersion   bool `yaml:"ignore_version"`
	ThrowOnNotFound bool `yaml:"throw_on_not_found"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "clrmeta", "config.yaml")
}

// loadConfig reads path. A missing file yields a zero Config.
func loadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Relative assembly paths are relative to the config file.
	base := filepath.Dir(path)
	for name, p := range cfg.Assemblies {
		if !filepath.IsAbs(p) {
			cfg.Assemblies[name] = filepath.Join(base, p)
		}
	}
	return cfg, nil
}

func (c Config) dumpLimit(flagValue int) int {
	if flagValue >= 0 {
		return flagValue
	}
	if c.DumpLimit != nil {
		return *c.DumpLimit
	}
	return 0
}

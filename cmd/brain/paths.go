package main

import (
	"os"
	"path/filepath"

	"github.com/brain-daemon/brain/pkg/config"
)

// Environment variable overrides named in spec.md §6: the config file
// location and the two root directories a deployment most often needs to
// relocate without editing YAML (container volumes, test fixtures).
const (
	envDataRoot     = "BRAIN_DATA_ROOT"
	envSessionsRoot = "BRAIN_SESSIONS_ROOT"
	envConfigPath   = "BRAIN_CONFIG"
)

// resolveConfigPath returns the config file to load: BRAIN_CONFIG if set,
// else ./config.yaml. A missing file is not an error (config.Load falls
// back to defaults), so this never needs to check existence itself.
func resolveConfigPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return "config.yaml"
}

// applyEnvOverrides layers the root-directory env vars over whatever
// config.Load resolved from file and defaults, so a deployment can pin
// data/session locations without templating the YAML.
func applyEnvOverrides(cfg config.Config) config.Config {
	if v := os.Getenv(envDataRoot); v != "" {
		cfg.Store.DataRoot = v
	}
	if v := os.Getenv(envSessionsRoot); v != "" {
		cfg.Store.SessionsRoot = v
	}
	return cfg
}

func pidFilePath(dataRoot string) string {
	return filepath.Join(dataRoot, "brain.pid")
}

func logFilePath(dataRoot string) string {
	return filepath.Join(dataRoot, "brain.log")
}

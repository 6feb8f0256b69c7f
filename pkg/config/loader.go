package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load runs the full configuration pipeline: read the YAML file, expand
// environment variables, parse, merge over Defaults, validate, and return
// the resolved Config. This mirrors the teacher's Initialize() shape: a
// fixed sequence of steps that each either succeeds or returns a wrapped
// error naming the step that failed.
//
// A missing file is not an error: the daemon runs on Defaults alone, which
// lets `brain daemon start` work with zero configuration.
func Load(path string) (Config, error) {
	raw, err := readFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := ExpandEnv(raw)

	var user Config
	if err := yaml.Unmarshal(expanded, &user); err != nil {
		return Config{}, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	merged, err := mergeWithDefaults(user)
	if err != nil {
		return Config{}, NewLoadError(path, err)
	}

	merged = expandPaths(merged)

	if err := validate(merged); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return merged, nil
}

// readFile reads the config file at path, tolerating its absence.
func readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}
	return data, nil
}

// expandPaths resolves a leading "~" in path-shaped fields to the user's
// home directory, the way a shell would before passing them to the
// daemon.
func expandPaths(c Config) Config {
	c.Store.DataRoot = expandHome(c.Store.DataRoot)
	c.Store.SessionsRoot = expandHome(c.Store.SessionsRoot)
	c.Analyzer.SkillsRoot = expandHome(c.Analyzer.SkillsRoot)
	return c
}

func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) > 1 && p[1] == '/' {
		return filepath.Join(home, p[2:])
	}
	return p
}

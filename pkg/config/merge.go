package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeWithDefaults overlays a user-supplied config on top of the builtin
// Defaults baseline. Zero-valued fields in user take the default; non-zero
// fields in user win. Slices are replaced wholesale, not appended, so a
// user who sets cors_origins or required_skills fully controls the list.
func mergeWithDefaults(user Config) (Config, error) {
	merged := Defaults
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config with defaults: %w", err)
	}
	return merged, nil
}

// ApplyUpdate overlays a partial override on top of an already-resolved
// base config and re-validates the result, for the HTTP surface's daemon
// config update endpoint (spec.md §4.12). Only non-zero fields in override
// take effect, matching mergeWithDefaults's semantics.
//
// Components that captured config values at construction (the worker
// pool's concurrency, the watcher's roots, the scheduler's cron strings)
// do not observe this update until the daemon restarts — only read-mostly
// call sites that consult the live Config (e.g. API CORS origins on the
// next request) pick it up immediately. This mirrors spec.md §5's
// "Configuration: read-mostly; updates acquire an exclusive lock and
// broadcast a daemon.config_changed event" without requiring every
// component to support live reconfiguration.
func ApplyUpdate(base, override Config) (Config, error) {
	merged := base
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config update: %w", err)
	}
	merged = expandPaths(merged)
	if err := validate(merged); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return merged, nil
}

package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brain-daemon/brain/pkg/config"
)

func TestResolveConfigPathDefaultsToConfigYAML(t *testing.T) {
	os.Unsetenv(envConfigPath)
	require.Equal(t, "config.yaml", resolveConfigPath())
}

func TestResolveConfigPathHonorsEnvOverride(t *testing.T) {
	t.Setenv(envConfigPath, "/etc/brain/custom.yaml")
	require.Equal(t, "/etc/brain/custom.yaml", resolveConfigPath())
}

func TestApplyEnvOverridesLayersOverConfig(t *testing.T) {
	t.Setenv(envDataRoot, "/data/brain")
	t.Setenv(envSessionsRoot, "/sessions")

	cfg := config.Config{}
	cfg.Store.DataRoot = "/default/data"
	cfg.Store.SessionsRoot = "/default/sessions"

	out := applyEnvOverrides(cfg)
	require.Equal(t, "/data/brain", out.Store.DataRoot)
	require.Equal(t, "/sessions", out.Store.SessionsRoot)
}

func TestApplyEnvOverridesLeavesConfigAloneWhenUnset(t *testing.T) {
	os.Unsetenv(envDataRoot)
	os.Unsetenv(envSessionsRoot)

	cfg := config.Config{}
	cfg.Store.DataRoot = "/default/data"

	out := applyEnvOverrides(cfg)
	require.Equal(t, "/default/data", out.Store.DataRoot)
}

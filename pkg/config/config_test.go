package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "brain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults.Queue.MaxQueueSize, cfg.Queue.MaxQueueSize)
	assert.Equal(t, Defaults.API.Port, cfg.API.Port)
}

func TestLoadEmptyPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults.Schedule.Reanalysis, cfg.Schedule.Reanalysis)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	path := writeTempConfig(t, `
queue:
  max_queue_size: 1000
api:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Queue.MaxQueueSize)
	assert.Equal(t, 9000, cfg.API.Port)
	// Untouched fields keep their default.
	assert.Equal(t, Defaults.Queue.ParallelWorkers, cfg.Queue.ParallelWorkers)
	assert.Equal(t, Defaults.Segment.IdleTimeoutMinutes, cfg.Segment.IdleTimeoutMinutes)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("BRAIN_TEST_DATA_ROOT", "/var/lib/brain-test")
	path := writeTempConfig(t, `
store:
  data_root: ${BRAIN_TEST_DATA_ROOT}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/brain-test", cfg.Store.DataRoot)
}

func TestLoadExpandsHomeDirInPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeTempConfig(t, `
store:
  data_root: "~/brain-data"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "brain-data"), cfg.Store.DataRoot)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "queue:\n  max_queue_size: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadRejectsInvalidCronSchedule(t *testing.T) {
	path := writeTempConfig(t, `
schedule:
  reanalysis: "not a cron string"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	path := writeTempConfig(t, `
api:
  port: 70000
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadRejectsEmptyRequiredField(t *testing.T) {
	path := writeTempConfig(t, `
analyzer:
  binary: ""
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestMergeWithDefaultsReplacesSlicesWholesale(t *testing.T) {
	user := Config{
		API: APIConfig{CORSOrigins: []string{"https://example.com"}},
	}
	merged, err := mergeWithDefaults(user)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com"}, merged.API.CORSOrigins)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validate(Defaults))
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		sched   ScheduleConfig
		wantErr bool
	}{
		{
			name:  "valid defaults",
			sched: Defaults.Schedule,
		},
		{
			name: "missing field",
			sched: ScheduleConfig{
				Reanalysis:          "",
				ConnectionDiscovery: "30 */6 * * *",
				PatternAggregation:  "0 3 * * *",
				Clustering:          "0 4 * * 0",
				EmbeddingBackfill:   "15 */6 * * *",
			},
			wantErr: true,
		},
		{
			name: "malformed cron",
			sched: ScheduleConfig{
				Reanalysis:          "* * * *", // too few fields
				ConnectionDiscovery: "30 */6 * * *",
				PatternAggregation:  "0 3 * * *",
				Clustering:          "0 4 * * 0",
				EmbeddingBackfill:   "15 */6 * * *",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSchedule(tt.sched)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

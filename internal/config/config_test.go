package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 60*time.Second, cfg.Library.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Tick())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
library:
  url: http://media.local:45869
  access_key: abc123
engine:
  last_viewed_threshold_seconds: 86400
scheduler:
  global_interval_seconds: 900
pruning:
  run_log_max_age_days: 7
metrics:
  enabled: true
  addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://media.local:45869", cfg.Library.URL)
	assert.Equal(t, "abc123", cfg.Library.AccessKey)
	assert.Equal(t, 24*time.Hour, cfg.Engine.LastViewedThreshold())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.GlobalInterval())
	assert.Equal(t, 7*24*time.Hour, cfg.Pruning.RunLogMaxAge())
	assert.True(t, cfg.Metrics.Enabled)

	// Untouched fields keep their defaults.
	assert.Equal(t, 60, cfg.Library.TimeoutSeconds)
	assert.Equal(t, "warden.db", cfg.Database.Path)
	assert.Equal(t, 200, cfg.Pruning.RunLogKeepPerRule)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"empty library url", "library:\n  url: \"\"\n", "library.url"},
		{"zero tick", "scheduler:\n  tick_seconds: 0\n", "tick_seconds"},
		{"empty db path", "database:\n  path: \"\"\n", "database.path"},
		{"metrics without addr", "metrics:\n  enabled: true\n  addr: \"\"\n", "metrics.addr"},
		{"negative view threshold", "engine:\n  last_viewed_threshold_seconds: -1\n", "last_viewed_threshold_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "library: [not a map"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

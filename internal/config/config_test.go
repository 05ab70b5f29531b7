package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/swarmd/internal/scm"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "swarmd-tasks", cfg.Temporal.TaskQueue)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, 5*time.Minute, cfg.SelfHeal.Interval)
	assert.Equal(t, 24*time.Hour, cfg.SelfHeal.MaintenanceInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Postgres.DSN, "history backend is opt-in")
	assert.Empty(t, cfg.NATS.URL, "notifications are opt-in")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
temporal:
  host_port: temporal.internal:7233
workers:
  count: 8
scm:
  kind: gitlab
  org: acme
  repo: app
selfheal:
  interval: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "temporal.internal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, scm.KindGitLab, cfg.SCM.Kind)
	assert.Equal(t, 30*time.Second, cfg.SelfHeal.Interval)
	assert.Equal(t, "default", cfg.Temporal.Namespace, "untouched keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  count: 8\n"), 0o644))

	t.Setenv("SWARMD_WORKERS__COUNT", "16")
	t.Setenv("SWARMD_SCM__TOKEN", "secret")
	t.Setenv("SWARMD_SELFHEAL__MAX_ITERATIONS_PER_RUN", "100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Workers.Count)
	assert.Equal(t, "secret", cfg.SCM.Token)
	assert.Equal(t, 100, cfg.SelfHeal.MaxIterationsPerRun, "single underscores stay inside key names")
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host port", func(c *Config) { c.Temporal.HostPort = "" }},
		{"missing task queue", func(c *Config) { c.Temporal.TaskQueue = "" }},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }},
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }},
		{"sub-second heal interval", func(c *Config) { c.SelfHeal.Interval = 100 * time.Millisecond }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

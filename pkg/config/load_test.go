package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, DefaultUpstreamTimeout, cfg.Upstream.Timeout)
	assert.Equal(t, TickInterval, cfg.Scheduler.Interval)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "trafficwatch.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
port: "9090"
timezone: Europe/Madrid
storage:
  backend: sqlite
  sqlite_path: /tmp/tw.db
upstream:
  base_url: https://cams.example.test
  timeout: 3s
scheduler:
  enabled: true
`), 0o600))

	t.Setenv(ConfigPathEnv, yamlPath)
	t.Setenv("PORT", "7070")
	t.Setenv("UPSTREAM_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "env overrides yaml")
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/tw.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "https://cams.example.test", cfg.Upstream.BaseURL)
	assert.Equal(t, "secret", cfg.Upstream.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "Europe/Madrid", cfg.Location().String())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnv, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RETENTION_DAYS=30\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RETENTION_DAYS") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.RetentionDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }, ErrUnknownBackend},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, ErrMissingSetting},
		{"redis without addr", func(c *Config) { c.Notifier.Kind = "redis" }, ErrMissingSetting},
		{"mqtt without broker", func(c *Config) { c.Notifier.Kind = "mqtt" }, ErrMissingSetting},
		{"unknown notifier", func(c *Config) { c.Notifier.Kind = "kafka" }, ErrUnknownNotifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_BadTimezone(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestTimeouts_ResponsesOutliveJobs(t *testing.T) {
	assert.Less(t, JobTimeout, ServerWriteTimeout)
	assert.Less(t, TickTimeout, ServerWriteTimeout, "a tick must finish before the server cuts its response")
	assert.GreaterOrEqual(t, TickTimeout, 3*JobTimeout)
}

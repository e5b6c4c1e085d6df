package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/duenotify.db
  busy_timeout: 5s
scheduler:
  enabled: true
  timezone: UTC
task_engine:
  workers: 2
due:
  scan_schedule: "*/5 * * * *"
  due_soon_window: 24h
  fetch_failure_alert: 3
retention:
  schedule: 24h
  horizon: 720h
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, 3, cfg.Due.FetchFailureAlert)
	assert.True(t, TaskEngineEnabled(cfg))
	assert.True(t, RetentionEnabled(cfg))
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"scheduler":{"enabled":true},"bogus":1}`))
	_, err := m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "Logging.Level"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, wantErr: "Storage.Driver"},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "Storage.DSN"},
		{name: "bad duration", mutate: func(c *Config) { c.Due.WriteTimeout = "soon" }, wantErr: "due.write_timeout"},
		{name: "negative duration", mutate: func(c *Config) { c.Retention.Horizon = "-1h" }, wantErr: "retention.horizon"},
		{name: "retry bound", mutate: func(c *Config) { c.TaskEngine.RetryMax = 99 }, wantErr: "TaskEngine.RetryMax"},
		{name: "public diag needs token", mutate: func(c *Config) {
			c.Diag.Enabled = true
			c.Diag.Addr = "0.0.0.0:6060"
		}, wantErr: "diag.addr"},
		{name: "public diag with token", mutate: func(c *Config) {
			c.Diag.Enabled = true
			c.Diag.Addr = "0.0.0.0:6060"
			c.Diag.Token = "secret"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "x.db"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchedulerEnabledDefaultsOn(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", "logging:\n  level: info\n"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Scheduler.Enabled)
	assert.True(t, SchedulerEnabled(cfg))
	assert.True(t, TaskEngineEnabled(cfg))

	off := false
	cfg.Scheduler.Enabled = &off
	assert.False(t, SchedulerEnabled(cfg))
	assert.False(t, TaskEngineEnabled(cfg))
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", "90s", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationOrDefault("x", "nope", 0)
	assert.Error(t, err)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Diag: DiagConfig{Token: "a"}, Storage: StorageConfig{DSN: "postgres://u:p@h/db"}}
	newCfg := &Config{Diag: DiagConfig{Token: "b"}, Storage: StorageConfig{DSN: "postgres://u:q@h/db"}, Due: DueConfig{ScanSchedule: "1m"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"diag", "due", "storage"}, changed)
	assert.NotEmpty(t, attrs)

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, same)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := sampleYAML + "diag:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-sub:
		assert.True(t, cfg.Diag.Enabled)
		assert.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	orig, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return nil })

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "fetch_failure_alert: 3", "fetch_failure_alert: 3\n  write_timeout: later", 1)), 0o600))
	m.reload(context.Background())
	assert.Same(t, orig, m.Get())
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := NewConfigManager(filepath.Join("..", "..", "config.example.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", cfg.Due.ScanSchedule)
	assert.Equal(t, "720h", cfg.Retention.Horizon)
	assert.False(t, cfg.Diag.Enabled)
}

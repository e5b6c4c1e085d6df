package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"duenotify/internal/config"
	"duenotify/internal/due"
	"duenotify/internal/storage"
	"duenotify/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestMapDueConfigDefaults(t *testing.T) {
	got, err := mapDueConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, due.DefaultScanSchedule, got.ScanSchedule)
	assert.Equal(t, 2*time.Minute, got.ScanTimeout)
	assert.Equal(t, due.DefaultDueSoonWindow, got.Scanner.Window)
	assert.Equal(t, 30*time.Second, got.Scanner.FetchTimeout)
	assert.Equal(t, 5*time.Second, got.Scanner.WriteTimeout)
	assert.True(t, got.RetentionEnabled)
	assert.Equal(t, due.DefaultSweepSchedule, got.RetentionSchedule)
	assert.Equal(t, due.DefaultRetentionHorizon, got.RetentionHorizon)
}

func TestMapDueConfigRejectsBadValues(t *testing.T) {
	_, err := mapDueConfig(&config.Config{Due: config.DueConfig{ScanSchedule: "61 * * * *"}})
	assert.ErrorContains(t, err, "due.scan_schedule")

	_, err = mapDueConfig(&config.Config{Retention: config.RetentionConfig{Horizon: "a month"}})
	assert.ErrorContains(t, err, "retention.horizon")

	got, err := mapDueConfig(&config.Config{Retention: config.RetentionConfig{Enabled: boolPtr(false)}})
	require.NoError(t, err)
	assert.False(t, got.RetentionEnabled)
}

func TestMapEngineConfig(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: boolPtr(true)}}
	got, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 0, got.RetryMax)

	cfg.TaskEngine.Enabled = boolPtr(false)
	_, err = mapEngineConfig(cfg)
	assert.Error(t, err)
}

func TestSchedulerEnabledByDefault(t *testing.T) {
	cfg := &config.Config{}
	assert.True(t, mapSchedulerConfig(cfg).Enabled)
	eng, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, eng.Enabled)

	cfg.Scheduler.Enabled = boolPtr(false)
	assert.False(t, mapSchedulerConfig(cfg).Enabled)
	eng, err = mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.False(t, eng.Enabled)
}

func TestMapStorageConfig(t *testing.T) {
	got, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, storage.DriverSQLite, got.Driver)
	assert.Equal(t, 5*time.Second, got.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "postgres"}})
	assert.Error(t, err)
	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "mongo"}})
	assert.Error(t, err)
}

func TestMapDiagConfigDefaultsToLoopback(t *testing.T) {
	got := mapDiagConfig(&config.Config{Diag: config.DiagConfig{Enabled: true}})
	assert.Equal(t, "127.0.0.1:6060", got.Addr)
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
logging:
  level: error
storage:
  driver: sqlite
  path: %q
scheduler:
  enabled: true
  timezone: UTC
due:
  scan_schedule: "@every 1s"
retention:
  schedule: 1h
`, filepath.Join(dir, "app.db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppScansOnSchedule(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewApp(ctx, writeConfig(t, dir))
	require.NoError(t, err)

	past := time.Now().Add(-3 * time.Hour)
	task, err := a.Tasks().Create(ctx, tasks.NewTask{UserID: "u1", Title: "late", DueAt: &past})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	require.Eventually(t, func() bool {
		ok, err := a.Store().NotificationExists(ctx, task.ID, storage.TypeOverdue)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)

	st := a.status(ctx).(Status)
	assert.NotEmpty(t, st.Scheduler.Schedules)
	require.Eventually(t, func() bool { return a.Due().Status().LastSweep != nil }, 5*time.Second, 50*time.Millisecond)
}

package app

import (
	"fmt"
	"strings"
	"time"

	"duenotify/internal/config"
	"duenotify/internal/due"
	"duenotify/internal/jobs/engine"
	"duenotify/internal/jobs/scheduler"
	"duenotify/internal/observability/diag"
	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", storage.DriverSQLite, "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = "./data/duenotify.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: storage.DriverSQLite, Path: path, BusyTimeout: busy}, nil
	case storage.DriverPostgres:
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: storage.DriverPostgres, DSN: sc.DSN, MaxOpen: sc.MaxOpen}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	if config.SchedulerEnabled(cfg) && te.Enabled != nil && !*te.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        config.TaskEngineEnabled(cfg),
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  config.SchedulerEnabled(cfg),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapDueConfig(cfg *config.Config) (due.Config, error) {
	d, r := cfg.Due, cfg.Retention

	var firstErr error
	dur := func(path, raw string, def time.Duration) time.Duration {
		v, err := config.ParseDurationOrDefault(path, raw, def)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	}
	out := due.Config{
		ScanSchedule: strings.TrimSpace(d.ScanSchedule),
		ScanTimeout:  dur("due.scan_timeout", d.ScanTimeout, 2*time.Minute),
		Scanner: due.ScannerConfig{
			Window:            dur("due.due_soon_window", d.DueSoonWindow, due.DefaultDueSoonWindow),
			FetchTimeout:      dur("due.fetch_timeout", d.FetchTimeout, 30*time.Second),
			WriteTimeout:      dur("due.write_timeout", d.WriteTimeout, 5*time.Second),
			FetchFailureAlert: d.FetchFailureAlert,
		},
		RetentionEnabled:  config.RetentionEnabled(cfg),
		RetentionSchedule: strings.TrimSpace(r.Schedule),
		RetentionHorizon:  dur("retention.horizon", r.Horizon, due.DefaultRetentionHorizon),
		RetentionTimeout:  dur("retention.timeout", r.Timeout, time.Minute),
	}
	if firstErr != nil {
		return due.Config{}, firstErr
	}

	if out.ScanSchedule == "" {
		out.ScanSchedule = due.DefaultScanSchedule
	}
	if out.RetentionSchedule == "" {
		out.RetentionSchedule = due.DefaultSweepSchedule
	}
	if err := scheduler.ValidateSchedule(out.ScanSchedule); err != nil {
		return due.Config{}, fmt.Errorf("due.scan_schedule: %w", err)
	}
	if err := scheduler.ValidateSchedule(out.RetentionSchedule); err != nil {
		return due.Config{}, fmt.Errorf("retention.schedule: %w", err)
	}
	return out, nil
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	addr := strings.TrimSpace(cfg.Diag.Addr)
	if addr == "" {
		addr = diag.DefaultAddr
	}
	return diag.Config{
		Enabled:      cfg.Diag.Enabled,
		Addr:         addr,
		Token:        strings.TrimSpace(cfg.Diag.Token),
		Pprof:        cfg.Diag.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// validateConfig rejects a reloaded config the services could not apply.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDueConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "duenotify/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe fields
// for logging. Secrets (storage.dsn, diag.token) are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, ns := oldCfg.Storage, newCfg.Storage
	if oldS != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(ns.DSN) != ""),
			logx.String("storage.busy_timeout", ns.BusyTimeout),
		)
	}

	if SchedulerEnabled(oldCfg) != SchedulerEnabled(newCfg) ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", SchedulerEnabled(newCfg)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		te := newCfg.TaskEngine
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", TaskEngineEnabled(newCfg)),
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", te.DefaultTimeout),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if oldCfg.Due != newCfg.Due {
		changed = append(changed, "due")
		attrs = append(attrs,
			logx.String("due.scan_schedule", newCfg.Due.ScanSchedule),
			logx.String("due.due_soon_window", newCfg.Due.DueSoonWindow),
			logx.String("due.write_timeout", newCfg.Due.WriteTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.Bool("retention.enabled", RetentionEnabled(newCfg)),
			logx.String("retention.schedule", newCfg.Retention.Schedule),
			logx.String("retention.horizon", newCfg.Retention.Horizon),
		)
	}

	od, nd := oldCfg.Diag, newCfg.Diag
	if od.Enabled != nd.Enabled || od.Addr != nd.Addr || od.Pprof != nd.Pprof || od.Token != nd.Token {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nd.Enabled),
			logx.String("diag.addr", nd.Addr),
			logx.Bool("diag.pprof", nd.Pprof),
			logx.Bool("diag.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// TaskEngineEnabled resolves task_engine.enabled, which follows scheduler.enabled when omitted.
func TaskEngineEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	if cfg.TaskEngine.Enabled != nil {
		return *cfg.TaskEngine.Enabled
	}
	return SchedulerEnabled(cfg)
}

// SchedulerEnabled resolves scheduler.enabled, which defaults to true.
func SchedulerEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Scheduler.Enabled == nil {
		return true
	}
	return *cfg.Scheduler.Enabled
}

// RetentionEnabled resolves retention.enabled, which defaults to true.
func RetentionEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Retention.Enabled == nil {
		return true
	}
	return *cfg.Retention.Enabled
}

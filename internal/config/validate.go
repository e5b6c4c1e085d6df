package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct rules and the values that need parsing (durations, addresses).
// Schedule strings are checked by the app, which owns the schedule grammar.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				errs = append(errs, fmt.Errorf("%s: failed %q rule", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durations := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay},
		{"due.scan_timeout", cfg.Due.ScanTimeout},
		{"due.fetch_timeout", cfg.Due.FetchTimeout},
		{"due.write_timeout", cfg.Due.WriteTimeout},
		{"due.due_soon_window", cfg.Due.DueSoonWindow},
		{"retention.horizon", cfg.Retention.Horizon},
		{"retention.timeout", cfg.Retention.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Diag.Enabled && strings.TrimSpace(cfg.Diag.Token) == "" && !isLoopbackAddr(cfg.Diag.Addr) {
		errs = append(errs, fmt.Errorf("diag.addr: %q is not loopback; set diag.token", cfg.Diag.Addr))
	}
	return errors.Join(errs...)
}

// fieldPath maps "Config.TaskEngine.RetryMax" to "TaskEngine.RetryMax".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func isLoopbackAddr(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

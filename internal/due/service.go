package due

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"duenotify/internal/eventbus"
	logx "duenotify/pkg/logx"
)

const (
	ScanJobName         = "due.scan"
	SweepJobName        = "retention.sweep"
	StartupSweepJobName = "retention.sweep.startup"

	DefaultScanSchedule  = "*/5 * * * *"
	DefaultSweepSchedule = "24h"
)

// Store is everything the due engine reads and writes.
type Store interface {
	TaskSource
	NotificationWriter
	NotificationPurger
}

// Scheduler registers periodic and one-shot jobs.
type Scheduler interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Config wires scan and sweep cadence.
type Config struct {
	ScanSchedule string
	// ScanTimeout bounds a whole cycle; 0 means no bound.
	ScanTimeout time.Duration
	Scanner     ScannerConfig

	RetentionEnabled  bool
	RetentionSchedule string
	RetentionHorizon  time.Duration
	RetentionTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ScanSchedule) == "" {
		c.ScanSchedule = DefaultScanSchedule
	}
	if strings.TrimSpace(c.RetentionSchedule) == "" {
		c.RetentionSchedule = DefaultSweepSchedule
	}
	if c.RetentionHorizon <= 0 {
		c.RetentionHorizon = DefaultRetentionHorizon
	}
	if c.RetentionTimeout <= 0 {
		c.RetentionTimeout = time.Minute
	}
	return c
}

// Status is the diagnostics view of the engine.
type Status struct {
	ScanSchedule             string       `json:"scan_schedule"`
	RetentionEnabled         bool         `json:"retention_enabled"`
	RetentionSchedule        string       `json:"retention_schedule"`
	RetentionHorizon         string       `json:"retention_horizon"`
	ConsecutiveFetchFailures int          `json:"consecutive_fetch_failures"`
	LastCycle                *CycleReport `json:"last_cycle,omitempty"`
	LastSweep                *SweepReport `json:"last_sweep,omitempty"`
}

// Service owns the scanner, sweeper and emitter and registers their jobs.
type Service struct {
	log   logx.Logger
	sched Scheduler

	emitter *Emitter
	scanner *Scanner
	sweeper *Sweeper

	mu         sync.Mutex
	cfg        Config
	registered bool
}

func NewService(store Store, sched Scheduler, cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "due"))
	em := NewEmitter(store, bus, log)
	return &Service{
		log:     log,
		sched:   sched,
		cfg:     cfg,
		emitter: em,
		scanner: NewScanner(store, em, cfg.Scanner, log, bus),
		sweeper: NewSweeper(store, cfg.RetentionHorizon, log, bus),
	}
}

func (s *Service) Emitter() *Emitter { return s.emitter }
func (s *Service) Scanner() *Scanner { return s.scanner }
func (s *Service) Sweeper() *Sweeper { return s.sweeper }

// Register adds the scan schedule, the sweep schedule and the one-shot
// startup sweep to the scheduler.
func (s *Service) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registerLocked(true); err != nil {
		return err
	}
	s.registered = true
	return nil
}

// Apply swaps the config and re-registers changed schedules.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	s.scanner.SetConfig(cfg.Scanner)
	s.sweeper.SetHorizon(cfg.RetentionHorizon)

	if !s.registered {
		return nil
	}
	if prev.ScanSchedule == cfg.ScanSchedule && prev.ScanTimeout == cfg.ScanTimeout &&
		prev.RetentionEnabled == cfg.RetentionEnabled && prev.RetentionSchedule == cfg.RetentionSchedule &&
		prev.RetentionTimeout == cfg.RetentionTimeout {
		return nil
	}
	if err := s.registerLocked(false); err != nil {
		// Keep the previous schedules running.
		s.cfg = prev
		_ = s.registerLocked(false)
		return err
	}
	s.log.Info("schedules updated", logx.String("scan", cfg.ScanSchedule), logx.String("sweep", cfg.RetentionSchedule))
	return nil
}

func (s *Service) registerLocked(startup bool) error {
	cfg := s.cfg
	if _, err := s.sched.AddSchedule(ScanJobName, cfg.ScanSchedule, cfg.ScanTimeout, s.scanJob); err != nil {
		return fmt.Errorf("register %s %q: %w", ScanJobName, cfg.ScanSchedule, err)
	}

	if !cfg.RetentionEnabled {
		s.sched.Remove(SweepJobName)
		s.sched.Remove(StartupSweepJobName)
		return nil
	}
	if _, err := s.sched.AddSchedule(SweepJobName, cfg.RetentionSchedule, cfg.RetentionTimeout, s.sweeper.Run); err != nil {
		return fmt.Errorf("register %s %q: %w", SweepJobName, cfg.RetentionSchedule, err)
	}
	if startup {
		if _, err := s.sched.AddOnce(StartupSweepJobName, time.Now(), cfg.RetentionTimeout, s.sweeper.Run); err != nil {
			return fmt.Errorf("register %s: %w", StartupSweepJobName, err)
		}
	}
	return nil
}

// Unregister removes every job added by Register.
func (s *Service) Unregister() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Remove(ScanJobName)
	s.sched.Remove(SweepJobName)
	s.sched.Remove(StartupSweepJobName)
	s.registered = false
}

func (s *Service) scanJob(ctx context.Context) error {
	_, err := s.scanner.RunCycle(ctx)
	return err
}

func (s *Service) Status() Status {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	st := Status{
		ScanSchedule:             cfg.ScanSchedule,
		RetentionEnabled:         cfg.RetentionEnabled,
		RetentionSchedule:        cfg.RetentionSchedule,
		RetentionHorizon:         cfg.RetentionHorizon.String(),
		ConsecutiveFetchFailures: s.scanner.ConsecutiveFetchFailures(),
	}
	if r, ok := s.scanner.LastReport(); ok {
		st.LastCycle = &r
	}
	if r, ok := s.sweeper.LastReport(); ok {
		st.LastSweep = &r
	}
	return st
}

package due

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"duenotify/internal/eventbus"
	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"golang.org/x/time/rate"
)

// TaskSource is the task collaborator's query.
type TaskSource interface {
	// ListActiveDueBefore returns incomplete tasks of all users with due_at <= cutoff.
	ListActiveDueBefore(ctx context.Context, cutoff time.Time) ([]storage.Task, error)
}

// ScannerConfig tunes a scan cycle. Zero values take defaults.
type ScannerConfig struct {
	Window            time.Duration // default 24h
	FetchTimeout      time.Duration // default 30s
	WriteTimeout      time.Duration // default 5s
	FetchFailureAlert int           // consecutive fetch failures before escalating; default 3
}

func (c ScannerConfig) withDefaults() ScannerConfig {
	if c.Window <= 0 {
		c.Window = DefaultDueSoonWindow
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.FetchFailureAlert <= 0 {
		c.FetchFailureAlert = 3
	}
	return c
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	Started        time.Time     `json:"started"`
	Now            time.Time     `json:"now"`
	Duration       time.Duration `json:"duration"`
	Fetched        int           `json:"fetched"`
	DueSoon        int           `json:"due_soon"`
	Overdue        int           `json:"overdue"`
	Emitted        int           `json:"emitted"`
	AlreadyExisted int           `json:"already_existed"`
	Failed         int           `json:"failed"`
	Invalid        int           `json:"invalid"`
	Error          string        `json:"error,omitempty"`
}

// FetchFailingEvent is published as eventbus.TypeScanFetchFailing.
type FetchFailingEvent struct {
	Consecutive int    `json:"consecutive"`
	Error       string `json:"error"`
}

var ErrFetchFailed = errors.New("fetching due tasks failed")

// Scanner runs scan cycles. Concurrent cycles are safe.
type Scanner struct {
	tasks   TaskSource
	emitter *Emitter
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu  sync.RWMutex
	cfg ScannerConfig

	// warnLimit throttles per-task failure warnings; a cycle where many
	// writes fail logs a bounded number plus a summary.
	warnLimit *rate.Limiter

	fetchFailures atomic.Int32
	last          atomic.Pointer[CycleReport]
}

func NewScanner(tasks TaskSource, emitter *Emitter, cfg ScannerConfig, log logx.Logger, bus eventbus.Bus) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{
		tasks:     tasks,
		emitter:   emitter,
		bus:       bus,
		log:       log,
		now:       time.Now,
		cfg:       cfg.withDefaults(),
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

func (s *Scanner) SetConfig(cfg ScannerConfig) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scanner) config() ScannerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// LastReport returns the most recent completed cycle.
func (s *Scanner) LastReport() (CycleReport, bool) {
	r := s.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

// ConsecutiveFetchFailures is the current streak of failed fetches.
func (s *Scanner) ConsecutiveFetchFailures() int {
	return int(s.fetchFailures.Load())
}

// RunCycle runs one scan cycle at the current time.
func (s *Scanner) RunCycle(ctx context.Context) (CycleReport, error) {
	return s.RunCycleAt(ctx, s.now())
}

// RunCycleAt runs one scan cycle with now as the reference time.
//
// A fetch failure skips the cycle and is returned. Failures of single tasks
// are counted in the report and never abort the batch.
func (s *Scanner) RunCycleAt(ctx context.Context, now time.Time) (CycleReport, error) {
	cfg := s.config()
	rep := CycleReport{Started: time.Now(), Now: now}
	defer func() {
		rep.Duration = time.Since(rep.Started)
		s.last.Store(&rep)
	}()

	tasks, err := s.fetch(ctx, cfg, now)
	if err != nil {
		rep.Error = err.Error()
		return rep, err
	}
	rep.Fetched = len(tasks)

	var suppressed int
	for i := range tasks {
		// Shutdown or the cycle deadline ends the batch; the next tick resumes it.
		if err := ctx.Err(); err != nil {
			rep.Error = err.Error()
			s.log.Warn("scan cycle interrupted", logx.Int("processed", i), logx.Int("fetched", len(tasks)), logx.Err(err))
			s.finish(rep, suppressed)
			return rep, err
		}

		t := tasks[i]
		c, err := ClassifyWindow(t, now, cfg.Window)
		if err != nil {
			rep.Invalid++
			if s.warnLimit.Allow() {
				s.log.Warn("skipping malformed task", logx.String("task_id", t.ID), logx.Err(err))
			} else {
				suppressed++
			}
			continue
		}
		typ, ok := c.State.NotificationType()
		if !ok {
			continue
		}
		if c.State == StateOverdue {
			rep.Overdue++
		} else {
			rep.DueSoon++
		}

		err = s.emit(ctx, cfg, t, typ, c)
		switch {
		case err == nil:
			rep.Emitted++
		case errors.Is(err, ErrAlreadyExists):
			rep.AlreadyExisted++
		default:
			rep.Failed++
			if s.warnLimit.Allow() {
				s.log.Warn("notification emit failed",
					logx.String("task_id", t.ID),
					logx.String("type", string(typ)),
					logx.Err(err),
				)
			} else {
				suppressed++
			}
		}
	}

	s.finish(rep, suppressed)
	return rep, nil
}

func (s *Scanner) fetch(ctx context.Context, cfg ScannerConfig, now time.Time) ([]storage.Task, error) {
	fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	tasks, err := s.tasks.ListActiveDueBefore(fctx, now.Add(cfg.Window))
	if err != nil {
		n := int(s.fetchFailures.Add(1))
		err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		if n >= cfg.FetchFailureAlert {
			s.log.Error("scan fetch failing repeatedly; cycle skipped", logx.Int("consecutive", n), logx.Err(err))
			eventbus.Publish(s.bus, eventbus.TypeScanFetchFailing, FetchFailingEvent{Consecutive: n, Error: err.Error()})
		} else {
			s.log.Warn("scan fetch failed; cycle skipped", logx.Int("consecutive", n), logx.Err(err))
		}
		return nil, err
	}
	if prev := s.fetchFailures.Swap(0); prev >= int32(cfg.FetchFailureAlert) {
		s.log.Info("scan fetch recovered", logx.Int("failures", int(prev)))
	}
	return tasks, nil
}

func (s *Scanner) emit(ctx context.Context, cfg ScannerConfig, t storage.Task, typ storage.NotificationType, c Classification) error {
	wctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()

	var msg string
	if c.State == StateOverdue {
		msg = OverdueMessage(t.Title, *t.DueAt, c.DaysOverdue)
	} else {
		msg = DueSoonMessage(t.Title, *t.DueAt, c.HoursRemaining)
	}
	_, err := s.emitter.Emit(wctx, t.UserID, t.ID, typ, msg)
	return err
}

func (s *Scanner) finish(rep CycleReport, suppressed int) {
	rep.Duration = time.Since(rep.Started)
	fields := []logx.Field{
		logx.Int("fetched", rep.Fetched),
		logx.Int("due_soon", rep.DueSoon),
		logx.Int("overdue", rep.Overdue),
		logx.Int("emitted", rep.Emitted),
		logx.Int("already_existed", rep.AlreadyExisted),
		logx.Int("failed", rep.Failed),
		logx.Int("invalid", rep.Invalid),
		logx.Duration("took", rep.Duration),
	}
	if suppressed > 0 {
		fields = append(fields, logx.Int("warnings_suppressed", suppressed))
	}
	if rep.Emitted > 0 || rep.Failed > 0 || rep.Invalid > 0 {
		s.log.Info("scan cycle completed", fields...)
	} else {
		s.log.Debug("scan cycle completed", fields...)
	}
	eventbus.Publish(s.bus, eventbus.TypeScanCompleted, rep)
}

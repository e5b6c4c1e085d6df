package due

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"duenotify/internal/eventbus"
	logx "duenotify/pkg/logx"
)

// DefaultRetentionHorizon is how long notifications are kept.
const DefaultRetentionHorizon = 30 * 24 * time.Hour

// NotificationPurger deletes notifications by age.
type NotificationPurger interface {
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepReport summarizes one retention sweep.
type SweepReport struct {
	At       time.Time     `json:"at"`
	Cutoff   time.Time     `json:"cutoff"`
	Deleted  int64         `json:"deleted"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Sweeper deletes notifications older than the retention horizon, regardless
// of type or read state.
type Sweeper struct {
	store NotificationPurger
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu      sync.RWMutex
	horizon time.Duration

	last atomic.Pointer[SweepReport]
}

func NewSweeper(store NotificationPurger, horizon time.Duration, log logx.Logger, bus eventbus.Bus) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{store: store, bus: bus, log: log, now: time.Now}
	s.SetHorizon(horizon)
	return s
}

func (s *Sweeper) SetHorizon(h time.Duration) {
	if h <= 0 {
		h = DefaultRetentionHorizon
	}
	s.mu.Lock()
	s.horizon = h
	s.mu.Unlock()
}

func (s *Sweeper) Horizon() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.horizon
}

// Run sweeps with the configured horizon at the current time.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx, s.now(), s.Horizon())
	return err
}

// Sweep deletes every notification created before now-horizon and returns the count.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, fmt.Errorf("retention horizon must be > 0, got %s", horizon)
	}
	start := time.Now()
	cutoff := now.Add(-horizon)
	n, err := s.store.DeleteNotificationsBefore(ctx, cutoff)

	rep := SweepReport{At: now, Cutoff: cutoff, Deleted: n, Duration: time.Since(start)}
	if err != nil {
		rep.Error = err.Error()
		s.last.Store(&rep)
		s.log.Warn("retention sweep failed", logx.Time("cutoff", cutoff), logx.Err(err))
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.last.Store(&rep)
	s.log.Info("retention sweep completed",
		logx.Int64("deleted", n),
		logx.Time("cutoff", cutoff),
		logx.Duration("took", rep.Duration),
	)
	eventbus.Publish(s.bus, eventbus.TypeSweepCompleted, rep)
	return n, nil
}

func (s *Sweeper) LastReport() (SweepReport, bool) {
	r := s.last.Load()
	if r == nil {
		return SweepReport{}, false
	}
	return *r, true
}

package due

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	spec    string
	at      time.Time
	timeout time.Duration
	run     func(ctx context.Context) error
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]fakeJob
	bad  string
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{jobs: map[string]fakeJob{}} }

func (f *fakeScheduler) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if schedule == f.bad {
		return "", errors.New("invalid schedule")
	}
	f.jobs[name] = fakeJob{spec: schedule, timeout: timeout, run: job}
	return name, nil
}

func (f *fakeScheduler) AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = fakeJob{at: at, timeout: timeout, run: job}
	return name, nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	return ok
}

func (f *fakeScheduler) job(name string) (fakeJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[name]
	return j, ok
}

func TestServiceRegistersJobs(t *testing.T) {
	st := newMemStore()
	st.addTask(storage.Task{ID: "a", UserID: "u1", Title: "x", DueAt: ptrTime(time.Now().Add(time.Hour))})
	sched := newFakeScheduler()
	svc := NewService(st, sched, Config{ScanSchedule: "@every 1m", ScanTimeout: time.Minute, RetentionEnabled: true}, logx.Nop(), nil)
	require.NoError(t, svc.Register())

	scan, ok := sched.job(ScanJobName)
	require.True(t, ok)
	assert.Equal(t, "@every 1m", scan.spec)
	assert.Equal(t, time.Minute, scan.timeout)

	sweep, ok := sched.job(SweepJobName)
	require.True(t, ok)
	assert.Equal(t, DefaultSweepSchedule, sweep.spec)

	startup, ok := sched.job(StartupSweepJobName)
	require.True(t, ok)
	assert.False(t, startup.at.After(time.Now()))

	require.NoError(t, scan.run(context.Background()))
	assert.Len(t, st.notifications(), 1)
	require.NoError(t, startup.run(context.Background()))

	status := svc.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.Emitted)
	require.NotNil(t, status.LastSweep)
	assert.Equal(t, DefaultRetentionHorizon.String(), status.RetentionHorizon)
}

func TestServiceRetentionDisabled(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewService(newMemStore(), sched, Config{}, logx.Nop(), nil)
	require.NoError(t, svc.Register())

	_, ok := sched.job(ScanJobName)
	assert.True(t, ok)
	_, ok = sched.job(SweepJobName)
	assert.False(t, ok)
	_, ok = sched.job(StartupSweepJobName)
	assert.False(t, ok)
}

func TestServiceApply(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewService(newMemStore(), sched, Config{RetentionEnabled: true}, logx.Nop(), nil)
	require.NoError(t, svc.Register())

	require.NoError(t, svc.Apply(Config{ScanSchedule: "10m", RetentionEnabled: false, Scanner: ScannerConfig{Window: 48 * time.Hour}}))
	scan, _ := sched.job(ScanJobName)
	assert.Equal(t, "10m", scan.spec)
	_, ok := sched.job(SweepJobName)
	assert.False(t, ok)
	assert.Equal(t, 48*time.Hour, svc.Scanner().config().Window)

	sched.bad = "garbage"
	require.Error(t, svc.Apply(Config{ScanSchedule: "garbage"}))
	scan, _ = sched.job(ScanJobName)
	assert.Equal(t, "10m", scan.spec)
	assert.Equal(t, "10m", svc.Status().ScanSchedule)

	svc.Unregister()
	_, ok = sched.job(ScanJobName)
	assert.False(t, ok)
}

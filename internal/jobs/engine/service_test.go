package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"duenotify/internal/eventbus"
	logx "duenotify/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueueRunsJob(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	var ran atomic.Int32
	require.NoError(t, s.Enqueue(Job{Name: "hello", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}}))
	waitFor(t, func() bool { return ran.Load() == 1 })
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	h := s.Snapshot().History[0]
	assert.Equal(t, "hello", h.Name)
	assert.Empty(t, h.Error)
}

func TestEnqueueValidation(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})
	assert.Error(t, s.Enqueue(Job{Name: "x"}))
	assert.Error(t, s.Enqueue(Job{Name: " ", Run: func(context.Context) error { return nil }}))
}

func TestEnqueueDisabledAndStopped(t *testing.T) {
	disabled := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, disabled.Enqueue(Job{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	notStarted := New(Config{Enabled: true}, logx.Nop(), nil)
	assert.ErrorIs(t, notStarted.Enqueue(Job{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestOverlapSkipIfRunning(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 2, QueueSize: 4}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	job := Job{
		Name: "scan",
		Opt:  JobOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}
	require.NoError(t, s.Enqueue(job))
	<-started

	assert.ErrorIs(t, s.Enqueue(job), ErrOverlapSkip)
	close(release)

	waitFor(t, func() bool {
		return s.Enqueue(Job{Name: "scan", Opt: JobOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error { return nil }}) == nil
	})

	var sawSkip bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypeJobSkipped {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip)
}

func TestQueueFullDrops(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{}, 1)
	require.NoError(t, s.Enqueue(Job{Name: "busy", Run: func(ctx context.Context) error {
		started <- struct{}{}
		<-block
		return nil
	}}))
	<-started

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Enqueue(Job{Name: "queued", Run: noop}))
	assert.ErrorIs(t, s.Enqueue(Job{Name: "overflow", Run: noop}), ErrQueueFull)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.DroppedQueueFull)
	assert.Equal(t, uint64(1), snap.Dropped)
}

func TestRetryThenSucceed(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Job{
		Name: "flaky",
		Opt:  JobOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, s.Snapshot().History[0].Error)
}

func TestNoRetryStopsImmediately(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Job{
		Name: "fatal",
		Opt:  JobOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "bad input", s.Snapshot().History[0].Error)
}

func TestPanicBecomesFailure(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	require.NoError(t, s.Enqueue(Job{Name: "panicky", Run: func(ctx context.Context) error { panic("boom") }}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	assert.Contains(t, s.Snapshot().History[0].Error, "panic: boom")

	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Job{Name: "after", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}))
	waitFor(t, ran.Load)
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	require.NoError(t, s.Enqueue(Job{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	assert.Equal(t, context.DeadlineExceeded.Error(), s.Snapshot().History[0].Error)
}

func TestBackoffDelayBounds(t *testing.T) {
	opt := JobOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(opt, 1, nil))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(opt, 3, nil))
	assert.Equal(t, time.Second, backoffDelay(opt, 10, nil))
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Enqueue(Job{Name: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
}

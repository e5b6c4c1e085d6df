package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duenotify/internal/config"
	"duenotify/internal/due"
	"duenotify/internal/eventbus"
	"duenotify/internal/jobs/engine"
	"duenotify/internal/jobs/scheduler"
	"duenotify/internal/observability/diag"
	rtsup "duenotify/internal/runtime/supervisor"
	"duenotify/internal/storage"
	"duenotify/internal/tasks"
	logx "duenotify/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.SQLStore

	engine *engine.Service
	sched  *scheduler.Service
	due    *due.Service
	tasks  *tasks.Service
	diag   *diag.Service
}

// NewApp loads the config, opens (and migrates) the store and wires every
// service. Nothing runs until Start; one-shot commands use the services directly.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	// The next tick is the retry for scan and sweep jobs.
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "jobengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")), bus)

	dueCfg, err := mapDueConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dueSvc := due.NewService(store, schedSvc, dueCfg, log, bus)
	taskSvc := tasks.NewService(store, dueSvc.Emitter(), log)

	a := &App{
		cfgm:   cfgm,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		engine: engineSvc,
		sched:  schedSvc,
		due:    dueSvc,
		tasks:  taskSvc,
	}
	a.diag = diag.New(mapDiagConfig(cfg), diag.Sources{
		Health: store.Ping,
		Status: a.status,
	}, log)
	return a, nil
}

func (a *App) Store() *storage.SQLStore { return a.store }
func (a *App) Due() *due.Service        { return a.due }
func (a *App) Tasks() *tasks.Service    { return a.tasks }
func (a *App) Logger() logx.Logger      { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is served on /status.
type Status struct {
	Due       due.Status         `json:"due"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Runtime   rtsup.Counters     `json:"runtime"`
}

func (a *App) status(context.Context) any {
	return Status{
		Due:       a.due.Status(),
		Scheduler: a.sched.Snapshot(),
		Runtime:   a.sup.Counters(),
	}
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.due.Register(); err != nil {
		return err
	}
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; no scans will run")
	}
	if a.diag.Enabled() {
		a.diag.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	startSystemd(a.sup, a.log.With(logx.String("comp", "systemd")))

	a.log.Info("app started",
		logx.String("storage", a.store.Driver()),
		logx.String("scan", a.due.Status().ScanSchedule),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case due.EmittedEvent:
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("notification", string(d.Notification.Type)),
					logx.String("task_id", d.Notification.TaskID),
				)
			case due.FetchFailingEvent:
				a.log.Debug("event", logx.String("type", e.Type), logx.Int("consecutive", d.Consecutive))
			default:
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the latest of a burst.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	if engCfg, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.engine.Enabled()
		a.engine.Apply(ctx, engCfg)
		switch {
		case wasEnabled && !engCfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
		case !wasEnabled && engCfg.Enabled:
			a.engine.Start(ctx)
		}
	}

	schedWas := a.sched.Enabled()
	schedCfg := mapSchedulerConfig(next)
	a.sched.Apply(schedCfg)
	switch {
	case schedWas && !schedCfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !schedWas && schedCfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	if dueCfg, err := mapDueConfig(next); err != nil {
		a.log.Warn("invalid due config; keeping previous", logx.Err(err))
	} else if err := a.due.Apply(dueCfg); err != nil {
		a.log.Warn("due schedules not updated", logx.Err(err))
	}

	a.diag.Reconfigure(ctx, mapDiagConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("jobengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

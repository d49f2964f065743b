package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"databroadcast/internal/config"
	"databroadcast/internal/eventbus"
	"databroadcast/internal/metrics"
	"databroadcast/internal/ops"
	"databroadcast/internal/runtime/supervisor"
	"databroadcast/internal/schedule"
	"databroadcast/internal/server"
	logx "databroadcast/pkg/logx"
)

type App struct {
	cfgm      *config.ConfigManager
	overrides Overrides

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	metrics *metrics.Metrics
	ctl     *server.Controller
	ops     *ops.Service
	sched   *schedule.Service
	sd      *systemdNotifier

	finishOnce sync.Once
	finished   chan struct{}
}

// New loads the config (defaults when cfgPath is empty), applies flag
// overrides and builds every component. Nothing runs until Start.
func New(cfgPath string, ov Overrides) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(ov.apply(cfg)); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)
	eff := ov.apply(cfg)

	logs, log := logx.New(loggingConfig(eff))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	bus := eventbus.New()
	ctl := server.NewController(log,
		server.WithMetrics(m),
		server.WithBus(bus),
	)

	a := &App{
		cfgm:      cfgm,
		overrides: ov,
		log:       log.With(logx.String("comp", "app")),
		logs:      logs,
		bus:       bus,
		metrics:   m,
		ctl:       ctl,
		sd:        newSystemdNotifier(eff.Systemd.Notify, log),
		finished:  make(chan struct{}),
	}

	opsCfg, err := opsConfig(eff)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, a, reg, log)
	a.sched = schedule.New(scheduleConfig(eff), a.StartSession, log)
	return a, nil
}

// Config is the effective config: the committed file plus flag overrides.
func (a *App) Config() *config.Config {
	return a.overrides.apply(a.cfgm.Get())
}

// Finished is closed when a session ran out of entries and
// server.exit_when_done is set.
func (a *App) Finished() <-chan struct{} { return a.finished }

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return a.finished
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal supervisor error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) finish() {
	a.finishOnce.Do(func() { close(a.finished) })
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
		supervisor.WithPanicHook(a.metrics.Panicked),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(a.overrides.apply(cfg))
	})

	cfg := a.Config()

	if cfg.Ops.Enabled {
		opsCfg, _ := opsConfig(cfg)
		a.ops.Reconfigure(a.sup.Context(), opsCfg)
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	if d := a.sd.watchdogInterval(); d > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.sd.watchdog(c, d) })
	}

	if cfg.Server.Autostart {
		if err := a.StartSession(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sd.ready(a.ctl.Status().Text)
	a.log.Info("app started",
		logx.Bool("autostart", cfg.Server.Autostart),
		logx.Bool("ops", cfg.Ops.Enabled),
		logx.String("schedule", strings.TrimSpace(cfg.Schedule.Start)),
	)
	return nil
}

// logEvents mirrors controller events into debug logs and systemd STATUS.
func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			switch e.Type {
			case eventbus.SessionStarted, eventbus.SessionStopped, eventbus.SessionStartFailed,
				eventbus.ClientConnected, eventbus.ClientDisconnected:
				st := a.ctl.Status()
				a.sd.status(fmt.Sprintf("%s | clients %d | sent %d", st.Text, st.Clients, st.Sent))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		a.runStep(ctx, name, max, fn)
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("session", 3*time.Second, func(c context.Context) error { return a.ctl.Stop(c) })
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// runStep bounds one shutdown step so a stuck component cannot stall Stop.
// The caller's deadline is never extended.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldreport/internal/cache"
	"fieldreport/internal/config"
	"fieldreport/internal/eventbus"
	"fieldreport/internal/events"
	"fieldreport/internal/httpapi"
	"fieldreport/internal/reminder"
	"fieldreport/internal/render"
	rtsup "fieldreport/internal/runtime/supervisor"
	"fieldreport/internal/storage"
	"fieldreport/internal/transport/telegram"
	logx "fieldreport/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	rdb   *redis.Client

	conns    *reminder.Connections
	service  *reminder.Service
	gateway  *telegram.Gateway
	disp     *reminder.Dispatcher
	sched    *reminder.Scheduler
	renderer *render.Renderer
	http     *httpapi.Server

	httpShutdown time.Duration
	reminders    bool
	logSink      bool
	events       events.Config
	eventsOn     bool
}

// storeDirectory resolves staff names from persisted bindings.
type storeDirectory struct{ st storage.Store }

func (d storeDirectory) Lookup(ctx context.Context, staffName string) (string, bool, error) {
	return d.st.LookupStaff(ctx, strings.TrimSpace(staffName))
}

// New loads the config and wires every component. Nothing talks to the
// network except the optional Redis ping; Start brings things up.
func New(cfgm *config.Manager) (_ *App, err error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: bus, reminders: cfg.Reminders.IsEnabled()}
	defer func() {
		if err != nil {
			_ = a.closeResources()
			_ = logSvc.Close()
		}
	}()

	sc, _ := mapStorageConfig(cfg)
	if a.store, err = storage.Open(sc, root); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	var dir reminder.Directory = storeDirectory{st: a.store}
	connOpts := []reminder.ConnectionOption{reminder.WithConnectionEvents(bus)}
	if cfg.Cache != nil {
		ttl, _ := parseDurationOrDefault("cache.ttl", cfg.Cache.TTL, 10*time.Minute)
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.rdb, err = cache.Open(pctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		cached := cache.NewDirectory(a.rdb, dir, ttl, root)
		dir = cached
		connOpts = append(connOpts, reminder.WithInvalidator(cached))
		log.Info("staff directory cache enabled", logx.String("addr", cfg.Cache.Addr))
	}

	ttl, _ := mapConnectionTTL(cfg)
	a.conns = reminder.NewConnections(a.store, ttl, root, connOpts...)

	loc, _ := mapLocation(cfg)
	a.service = reminder.NewService(a.store, dir, root, reminder.WithLocation(loc))

	tcfg, _ := mapTelegramConfig(cfg)
	a.gateway = telegram.New(tcfg, a.conns, root)
	logSvc.SetSender(a.gateway)
	a.logSink = cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID != 0 && strings.TrimSpace(cfg.Telegram.Token) != ""

	dcfg, _ := mapDispatcherConfig(cfg)
	a.disp = reminder.NewDispatcher(dcfg, a.store, a.gateway, root, reminder.WithEvents(bus))

	schedCfg, _ := mapSchedulerConfig(cfg)
	a.sched = reminder.NewScheduler(schedCfg, a.store, a.disp, a.conns, a.gateway, root)

	var pdf httpapi.PDFRenderer
	if cfg.Renderer.Enabled {
		rc, cc, _ := mapRendererConfig(cfg)
		a.renderer = render.New(rc, render.NewChromeFactory(cc, root), root)
		pdf = a.renderer
	}

	srvCfg, shutdown, _ := mapServerConfig(cfg)
	a.httpShutdown = shutdown
	handler := httpapi.NewHandler(httpapi.Deps{
		Reminders:   a.service,
		Connections: a.conns,
		Renderer:    pdf,
		Scheduler:   a.sched,
		Pinger:      a.store,
		Pprof:       cfg.HTTP.Pprof,
	}, root)
	a.http = httpapi.NewServer(srvCfg, handler.Routes(), root)

	a.events, a.eventsOn = mapEventsConfig(cfg)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.logs.Logger())
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	switch {
	case a.reminders:
		if err := a.sched.Start(runCtx); err != nil {
			return err
		}
	case a.logSink:
		// Reminders are off but the operator log sink still needs a bot.
		if err := a.gateway.Init(runCtx, false); err != nil {
			a.log.Warn("telegram log sink unavailable", logx.Err(err))
		}
	default:
		a.log.Info("reminders disabled via config")
	}

	if a.renderer != nil {
		r := a.renderer
		a.sup.Go0("renderer.init", func(c context.Context) { r.Start(c) })
	}

	if err := a.http.Start(runCtx); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	if a.eventsOn {
		ecfg := a.events
		a.sup.GoRestart("events.amqp", time.Second, 30*time.Second, func(c context.Context) error {
			p, err := events.Dial(ecfg, a.logs.Logger())
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()
			return p.Run(c, a.bus)
		})
	}

	evs, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-evs:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.String("http", a.http.Addr()), logx.Bool("reminders", a.reminders))
	return nil
}

// applyConfig pushes the live-reloadable parts of a new config. Sections
// that need a restart are only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))

	if dcfg, err := mapDispatcherConfig(next); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeResources()
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")

	// HTTP drains first so no request races the store shutdown.
	a.step(ctx, "http", a.httpShutdown, func(c context.Context) error { return a.http.Stop(c) })

	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	a.step(ctx, "renderer", 5*time.Second, func(c context.Context) error {
		if a.renderer != nil {
			a.renderer.Shutdown(c)
		}
		return nil
	})
	a.step(ctx, "telegram", 2*time.Second, func(c context.Context) error { return a.gateway.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
		a.rdb = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

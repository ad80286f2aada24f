// Package app wires the bot together: configuration, logging, the Telegram
// adapter, the sheet store, the roster registry, the reminder engine and the
// command router run under one supervisor with ordered shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"time"

	"attendbot/internal/bot"
	"attendbot/internal/config"
	"attendbot/internal/observability/pprof"
	"attendbot/internal/remind"
	"attendbot/internal/roster"
	rtsup "attendbot/internal/runtime/supervisor"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	telegram "attendbot/internal/transport/telegram"
	"attendbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   *sheet.Client
	db      *roster.DB
	backup  *roster.Backup
	engine  *remind.Engine
	router  *bot.Router
	pprof   *pprof.Service

	updates chan kit.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	// Bootstrap read: the logging config has to exist before anything logs.
	// The manager re-reads the file right after, with a real logger attached.
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, _, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	var db *roster.DB
	ok := false
	defer func() {
		if ok {
			return
		}
		if db != nil {
			_ = db.Close()
		}
		_ = logs.Close()
	}()

	cfgm := config.NewManager(cfgPath,
		config.WithLogger(root.With(logx.String("comp", "config"))),
	)
	if cfg, err = cfgm.Load(ctx); err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(tgCfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sheetCfg, err := mapSheetConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := sheet.New(ctx, sheetCfg, root.With(logx.String("comp", "sheet")))
	if err != nil {
		return nil, err
	}

	rosterCfg, err := mapRosterConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err = roster.Open(rosterCfg, root.With(logx.String("comp", "roster")))
	if err != nil {
		return nil, err
	}

	var backup *roster.Backup
	if cfg.Roster.Backup.Enabled {
		backup, err = roster.NewBackup(db, roster.BackupConfig{
			Cron: cfg.Roster.Backup.Cron,
			Dir:  cfg.Roster.Backup.Dir,
			Keep: cfg.Roster.Backup.Keep,
		}, root.With(logx.String("comp", "backup")))
		if err != nil {
			return nil, err
		}
	}

	xCfg, err := mapExtractorConfig(cfg)
	if err != nil {
		return nil, err
	}
	extractor, err := schedule.NewExtractor(xCfg)
	if err != nil {
		return nil, err
	}
	codec := status.NewCodec(mapPalette(cfg))

	var engine *remind.Engine
	if cfg.Remind.Enabled {
		remindCfg, err := mapRemindConfig(cfg)
		if err != nil {
			return nil, err
		}
		engine, err = remind.New(remindCfg, remind.Deps{
			Store:     store,
			Codec:     codec,
			Extractor: extractor,
			Roster:    db,
			Transport: adapter,
		}, root.With(logx.String("comp", "remind")))
		if err != nil {
			return nil, err
		}
	}

	responder := remind.NewResponder(store, codec, extractor, db, adapter,
		root.With(logx.String("comp", "respond")))

	router, err := bot.New(bot.Deps{
		Store:     store,
		Codec:     codec,
		Extractor: extractor,
		Roster:    db,
		Transport: adapter,
		Responder: responder,
	}, root.With(logx.String("comp", "bot")))
	if err != nil {
		return nil, err
	}

	ppCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}

	ok = true
	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		adapter: adapter,
		store:   store,
		db:      db,
		backup:  backup,
		engine:  engine,
		router:  router,
		pprof:   pprof.New(ppCfg, root.With(logx.String("comp", "pprof"))),
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends, by a fatal error or by Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error the supervisor observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.backup != nil {
		a.backup.Start()
	}
	if a.engine != nil {
		if err := a.engine.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.pprof.Start(a.sup.Context())

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	id, sub := a.cfgm.Subscribe()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(id)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyReload(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyReload pushes a committed config into the running components.
// Logging, reminders and pprof apply live; the rest was built once at boot
// and only gets a restart warning.
func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if old != nil {
		tgRestart := old.Telegram.Token != cfg.Telegram.Token ||
			old.Telegram.PollTimeout != cfg.Telegram.PollTimeout ||
			old.Telegram.SendRatePerSec != cfg.Telegram.SendRatePerSec
		stale := []struct {
			section string
			changed bool
		}{
			{"telegram", tgRestart},
			{"sheets", old.Sheets != cfg.Sheets},
			{"schedule", !reflect.DeepEqual(old.Schedule, cfg.Schedule)},
			{"status", !reflect.DeepEqual(old.Status, cfg.Status)},
			{"roster", old.Roster != cfg.Roster},
		}
		for _, s := range stale {
			if s.changed {
				a.log.Warn("config change needs a restart to take effect",
					logx.String("section", s.section))
			}
		}
	}

	switch {
	case a.engine == nil:
		if cfg.Remind.Enabled {
			a.log.Warn("remind.enabled turned on; restart to start the engine")
		}
	case cfg.Remind.Enabled:
		remindCfg, err := mapRemindConfig(cfg)
		if err != nil {
			a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
			break
		}
		if err := a.engine.Apply(remindCfg); err != nil {
			a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
			break
		}
		if err := a.engine.Start(ctx); err != nil {
			a.log.Warn("reminder engine start failed", logx.Err(err))
		}
	default:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.engine.Stop(stopCtx)
		cancel()
	}

	if ppCfg, err := mapPprofConfig(cfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppCfg)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so every loop starts unwinding while the steps run.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
				return
			}
			a.log.Debug("stop step done", logx.String("step", name),
				logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step timed out (continuing)", logx.String("step", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The reminder bound covers the default dispatch grace.
	step("reminder", 12*time.Second, func(c context.Context) error {
		if a.engine != nil {
			return a.engine.Stop(c)
		}
		return nil
	})
	step("backup", 2*time.Second, func(c context.Context) error {
		if a.backup != nil {
			return a.backup.Stop(c)
		}
		return nil
	})
	step("pprof", time.Second, func(c context.Context) error {
		a.pprof.Stop(c)
		return nil
	})
	step("adapter", 3*time.Second, a.adapter.Stop)

	// The router drains in-flight handlers inside this wait, so the roster
	// DB has to outlive it.
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("roster", time.Second, func(context.Context) error { return a.db.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

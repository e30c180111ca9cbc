// Package app is the composition root: it loads config, builds every
// service, and owns startup/shutdown ordering. All wiring is explicit
// dependency injection; nothing hangs off package globals.
package app

import (
	"context"
	"errors"
	"time"

	"recq/internal/alerts"
	"recq/internal/archive"
	"recq/internal/config"
	"recq/internal/eventbus"
	"recq/internal/httpapi"
	"recq/internal/jobs"
	"recq/internal/maintenance"
	"recq/internal/netprobe"
	"recq/internal/observability/pprof"
	"recq/internal/recorder"
	rtsup "recq/internal/runtime/supervisor"
	"recq/internal/webhook"
	"recq/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    *jobs.Store
	sched    *jobs.Scheduler
	notifier *webhook.Notifier
	api      *httpapi.Server
	arch     *archive.Service // nil when disabled
	alerts   *alerts.Service  // nil when disabled
	maint    *maintenance.Service
	probe    *netprobe.Service
	pprof    *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	whCfg, err := mapWebhookConfig(cfg)
	if err != nil {
		return nil, err
	}
	recCfg, err := mapRecorderConfig(cfg)
	if err != nil {
		return nil, err
	}
	probeCfg, err := mapNetprobeConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateListenAddr("listen", cfg.Listen); err != nil {
		return nil, err
	}

	store := jobs.NewStore(cfg.OutputDir)
	notifier := webhook.New(whCfg, logs.Logger(), bus)
	sched := jobs.New(mapSchedulerConfig(cfg), store, notifier, bus, logs.Logger())
	probe := netprobe.New(probeCfg, logs.Logger())
	pprofSvc := pprof.New(pprofCfg, logs.Logger())

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		sched:    sched,
		notifier: notifier,
		probe:    probe,
		pprof:    pprofSvc,
	}

	if ac, enabled, err := mapArchiveConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		arch, err := archive.Open(ac, logs.Logger())
		if err != nil {
			return nil, err
		}
		a.arch = arch
		log.Info("archive enabled", logx.String("path", ac.Path))
	}

	if alCfg := mapAlertsConfig(cfg); alCfg.Enabled {
		a.alerts = alerts.New(alCfg, logs.Logger(), bus)
	}

	a.maint = maintenance.New(mapMaintenanceConfig(cfg), maintenance.Hooks{
		TrimRetention: sched.TrimNow,
		VacuumArchive: a.vacuumHook(),
		RunProbe:      a.probeHook(),
	}, logs.Logger())
	if err := a.maint.Validate(); err != nil {
		return nil, err
	}

	apiOpts := []httpapi.Option{httpapi.WithProbe(probe), httpapi.WithBus(bus)}
	if a.arch != nil {
		apiOpts = append(apiOpts, httpapi.WithArchive(a.arch))
	}
	a.api = httpapi.New(httpapi.Config{Addr: cfg.Listen}, sched,
		a.processorFactory(recCfg), logs.Logger(), apiOpts...)

	return a, nil
}

// recorderSettings is the per-submission slice of config the processor
// factory captures. Rebuilt only on restart.
type recorderSettings struct {
	capturer       recorder.Capturer
	maxConcurrent  int
	captureTimeout time.Duration
}

func (a *App) processorFactory(rc recorderSettings) httpapi.ProcessorFactory {
	return func(sessions []recorder.Session, upload bool) jobs.Processor {
		return recorder.NewProcessor(sessions, rc.capturer, recorder.Options{
			MaxConcurrent:  rc.maxConcurrent,
			CaptureTimeout: rc.captureTimeout,
			Upload:         upload,
		}, a.logs.Logger())
	}
}

func (a *App) vacuumHook() func(ctx context.Context) error {
	if a.arch == nil {
		return nil
	}
	return func(ctx context.Context) error { return a.arch.Vacuum(ctx) }
}

func (a *App) probeHook() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.probe.Run(ctx)
		if errors.Is(err, netprobe.ErrBusy) {
			return nil
		}
		return err
	}
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings every service up, leaves (queue draining) last so nothing
// observes a half-wired pipeline, and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	appCtx := a.sup.Context()

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateConfig)

	if a.arch != nil {
		a.arch.Start(appCtx, a.bus)
	}
	if a.alerts != nil {
		if err := a.alerts.Start(appCtx); err != nil {
			return err
		}
	}
	a.notifier.Start(appCtx)
	a.sched.Start(appCtx)
	if err := a.maint.Start(appCtx); err != nil {
		return err
	}
	if a.pprof.Enabled() {
		a.pprof.Start(appCtx)
	}
	// The supervisor only exists from here on, so healthz gets it late.
	httpapi.WithAppSupervisor(a.sup)(a.api)
	if err := a.api.Start(appCtx); err != nil {
		return err
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startReloadLoop()
	a.startDaemonIntegration()

	a.log.Info("recqd up", logx.String("listen", a.api.Addr()))
	return nil
}

// Stop shuts services down in reverse dependency order: intake first (API),
// then the pipeline (scheduler drains its active job, notifier drains its
// queue), then the peripherals.
func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	notifyStopping()

	a.api.Stop(ctx)
	a.sched.Stop(ctx)
	a.notifier.Stop(ctx)
	a.maint.Stop(ctx)
	if a.alerts != nil {
		a.alerts.Stop(ctx)
	}
	if a.arch != nil {
		a.arch.Stop(ctx)
		_ = a.arch.Close()
	}
	a.pprof.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	a.log.Info("recqd stopped")
	_ = a.logs.Close()
	return nil
}

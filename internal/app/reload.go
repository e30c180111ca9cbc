package app

import (
	"context"
	"strings"

	"recq/internal/config"
	"recq/pkg/logx"
)

// Sections the reload loop can apply without a restart. Everything else is
// validated (so a bad edit is still rejected) but only takes effect after
// the daemon restarts, because the scheduler/notifier/archive hold their
// config by value.
var liveSections = map[string]bool{
	"logging": true,
	"pprof":   true,
}

// startReloadLoop consumes validated config updates from the manager and
// applies what it can in place. The watcher already rejected configs that
// fail validateConfig, so everything arriving here parsed cleanly.
func (a *App) startReloadLoop() {
	updates := a.cfgm.Subscribe(8)
	log := a.logs.Logger().With(logx.String("comp", "reload"))

	a.sup.Go("config.reload", func(ctx context.Context) error {
		prev := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				a.cfgm.Unsubscribe(updates)
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				if cfg == nil {
					continue
				}
				// Coalesce bursts: only the newest config matters.
				for drained := true; drained; {
					select {
					case next, ok := <-updates:
						if !ok {
							drained = false
							break
						}
						if next != nil {
							cfg = next
						}
					default:
						drained = false
					}
				}

				changed, attrs := config.SummarizeChange(prev, cfg)
				if len(changed) == 0 {
					prev = cfg
					continue
				}
				log.Info("config reloaded",
					append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

				a.applyLive(ctx, cfg, changed, log)

				if deferred := restartOnly(changed); len(deferred) > 0 {
					log.Warn("config sections need a restart to take effect",
						logx.String("sections", strings.Join(deferred, ",")))
				}
				prev = cfg
			}
		}
	})
}

func (a *App) applyLive(ctx context.Context, cfg *config.Config, changed []string, log logx.Logger) {
	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(mapLoggingConfig(cfg))
			log.Info("logging reconfigured", logx.String("level", cfg.Logging.Level))
		case "pprof":
			// Validation already ran, so the durations parse.
			pc, err := mapPprofConfig(cfg)
			if err != nil {
				log.Warn("pprof config skipped", logx.Err(err))
				continue
			}
			a.pprof.Reconfigure(ctx, pc)
		}
	}
}

func restartOnly(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

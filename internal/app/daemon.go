package app

import (
	"context"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"recq/pkg/logx"
)

// startDaemonIntegration signals readiness to systemd and keeps the
// watchdog fed when one is configured. Outside systemd both calls are
// no-ops (NOTIFY_SOCKET unset), so this is safe to run unconditionally.
func (a *App) startDaemonIntegration() {
	sent, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}

	interval, err := sdnotify.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("sd_watchdog probe failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	// Ping at half the configured interval, the conventional margin.
	tick := interval / 2
	if tick < time.Second {
		tick = time.Second
	}
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if _, err := sdnotify.SdNotify(false, sdnotify.SdNotifyWatchdog); err != nil {
					a.log.Warn("sd_notify WATCHDOG failed", logx.Err(err))
				}
			}
		}
	})
}

func notifyStopping() {
	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)
}

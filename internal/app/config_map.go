package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recq/internal/alerts"
	"recq/internal/archive"
	"recq/internal/config"
	"recq/internal/jobs"
	"recq/internal/maintenance"
	"recq/internal/netprobe"
	"recq/internal/observability/pprof"
	"recq/internal/recorder"
	"recq/internal/webhook"
	"recq/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) jobs.Config {
	return jobs.Config{
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		RetentionKeep:   cfg.Scheduler.RetentionKeep,
		SubmitQueueWarn: cfg.Scheduler.SubmitQueueWarn,
	}
}

func mapWebhookConfig(cfg *config.Config) (webhook.Config, error) {
	timeout, err := config.ParseDurationOrDefault("webhook.timeout", cfg.Webhook.Timeout, 15*time.Second)
	if err != nil {
		return webhook.Config{}, err
	}
	return webhook.Config{
		Timeout:    timeout,
		RatePerSec: cfg.Webhook.RatePerSec,
		QueueSize:  cfg.Webhook.QueueSize,
		UserAgent:  cfg.Webhook.UserAgent,
	}, nil
}

func mapRecorderConfig(cfg *config.Config) (recorderSettings, error) {
	timeout, err := config.ParseDurationOrDefault("recorder.capture_timeout", cfg.Recorder.CaptureTimeout, 5*time.Minute)
	if err != nil {
		return recorderSettings{}, err
	}
	rs := recorderSettings{
		maxConcurrent:  cfg.Scheduler.MaxConcurrent,
		captureTimeout: timeout,
	}
	if rs.maxConcurrent < 1 {
		rs.maxConcurrent = 3
	}
	if base := strings.TrimSpace(cfg.Recorder.BaseURL); base != "" {
		rs.capturer = recorder.NewHTTPCapturer(base, timeout)
	} else {
		rs.capturer = recorder.NopCapturer{}
	}
	return rs, nil
}

func mapArchiveConfig(cfg *config.Config) (archive.Config, bool, error) {
	if cfg.Archive == nil || !cfg.Archive.Enabled {
		return archive.Config{}, false, nil
	}
	if strings.TrimSpace(cfg.Archive.Path) == "" {
		return archive.Config{}, false, fmt.Errorf("archive.path is required when archive is enabled")
	}
	busy, err := config.ParseDurationOrDefault("archive.busy_timeout", cfg.Archive.BusyTimeout, 2*time.Second)
	if err != nil {
		return archive.Config{}, false, err
	}
	return archive.Config{Path: cfg.Archive.Path, BusyTimeout: busy}, true, nil
}

func mapAlertsConfig(cfg *config.Config) alerts.Config {
	if cfg.Alerts == nil {
		return alerts.Config{}
	}
	return alerts.Config{
		Enabled:    cfg.Alerts.Enabled,
		Token:      cfg.Alerts.Token,
		ChatID:     cfg.Alerts.ChatID,
		RatePerSec: cfg.Alerts.RatePerSec,
	}
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		RetentionSweep: cfg.Maintenance.RetentionSweep,
		ArchiveVacuum:  cfg.Maintenance.ArchiveVacuum,
		BandwidthProbe: cfg.Maintenance.BandwidthProbe,
		Timezone:       cfg.Maintenance.Timezone,
	}
}

func mapNetprobeConfig(cfg *config.Config) (netprobe.Config, error) {
	timeout, err := config.ParseDurationOrDefault("netprobe.timeout", cfg.Netprobe.Timeout, 90*time.Second)
	if err != nil {
		return netprobe.Config{}, err
	}
	return netprobe.Config{
		Timeout:        timeout,
		MaxConnections: cfg.Netprobe.MaxConnections,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	rt, err := config.ParseDurationField("pprof.read_timeout", cfg.Pprof.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", cfg.Pprof.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", cfg.Pprof.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Prefix:               cfg.Pprof.Prefix,
		Token:                cfg.Pprof.Token,
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}, nil
}

// validateConfig rejects a hot-reload candidate before it is committed, so
// a bad edit never replaces a working config.
func (a *App) validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.ValidateListenAddr("listen", cfg.Listen); err != nil {
		return err
	}
	if cfg.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 0")
	}
	if cfg.Scheduler.RetentionKeep < 0 {
		return fmt.Errorf("scheduler.retention_keep must be >= 0")
	}
	if _, err := mapWebhookConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRecorderConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapArchiveConfig(cfg); err != nil {
		return err
	}
	if al := mapAlertsConfig(cfg); al.Enabled {
		if strings.TrimSpace(al.Token) == "" || al.ChatID == 0 {
			return fmt.Errorf("alerts: token and chat_id are required when enabled")
		}
	}
	if _, err := mapNetprobeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	return maintenance.New(mapMaintenanceConfig(cfg), maintenance.Hooks{}, logx.Nop()).Validate()
}

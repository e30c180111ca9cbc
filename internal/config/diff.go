package config

import (
	"reflect"
	"sort"
	"strings"

	"recq/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
//
// Sections that cannot be applied live ("listen", "output_dir", "scheduler")
// still show up here so the reload log can say a restart is needed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if strings.TrimSpace(oldCfg.Listen) != strings.TrimSpace(newCfg.Listen) {
		changed = append(changed, "listen")
		attrs = append(attrs, logx.String("listen", strings.TrimSpace(newCfg.Listen)))
	}
	if strings.TrimSpace(oldCfg.OutputDir) != strings.TrimSpace(newCfg.OutputDir) {
		changed = append(changed, "output_dir")
		attrs = append(attrs, logx.String("output_dir", strings.TrimSpace(newCfg.OutputDir)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_concurrent", newCfg.Scheduler.MaxConcurrent),
			logx.Int("scheduler.retention_keep", newCfg.Scheduler.RetentionKeep),
			logx.Int("scheduler.submit_queue_warn", newCfg.Scheduler.SubmitQueueWarn),
		)
	}

	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.timeout", strings.TrimSpace(newCfg.Webhook.Timeout)),
			logx.Int("webhook.rate_per_sec", newCfg.Webhook.RatePerSec),
			logx.Int("webhook.queue_size", newCfg.Webhook.QueueSize),
		)
	}

	if oldCfg.Recorder != newCfg.Recorder {
		changed = append(changed, "recorder")
		attrs = append(attrs,
			logx.Bool("recorder.base_url_set", strings.TrimSpace(newCfg.Recorder.BaseURL) != ""),
			logx.String("recorder.capture_timeout", strings.TrimSpace(newCfg.Recorder.CaptureTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	// Archive (nil means disabled)
	oldA := derefArchive(oldCfg.Archive)
	newA := derefArchive(newCfg.Archive)
	if oldA != newA {
		changed = append(changed, "archive")
		attrs = append(attrs,
			logx.Bool("archive.enabled", newA.Enabled),
			logx.Bool("archive.path_set", strings.TrimSpace(newA.Path) != ""),
			logx.String("archive.busy_timeout", strings.TrimSpace(newA.BusyTimeout)),
		)
	}

	// Alerts (never log token)
	oldAl := derefAlerts(oldCfg.Alerts)
	newAl := derefAlerts(newCfg.Alerts)
	if oldAl != newAl {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newAl.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(newAl.Token) != ""),
			logx.Bool("alerts.chat_set", newAl.ChatID != 0),
			logx.Int("alerts.rate_per_sec", newAl.RatePerSec),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.retention_sweep", strings.TrimSpace(newCfg.Maintenance.RetentionSweep)),
			logx.String("maintenance.archive_vacuum", strings.TrimSpace(newCfg.Maintenance.ArchiveVacuum)),
			logx.String("maintenance.bandwidth_probe", strings.TrimSpace(newCfg.Maintenance.BandwidthProbe)),
			logx.String("maintenance.timezone", strings.TrimSpace(newCfg.Maintenance.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Netprobe, newCfg.Netprobe) {
		changed = append(changed, "netprobe")
		attrs = append(attrs,
			logx.String("netprobe.timeout", strings.TrimSpace(newCfg.Netprobe.Timeout)),
			logx.Int("netprobe.max_connections", newCfg.Netprobe.MaxConnections),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefArchive(a *ArchiveConfig) ArchiveConfig {
	if a == nil {
		return ArchiveConfig{}
	}
	return *a
}

func derefAlerts(a *AlertsConfig) AlertsConfig {
	if a == nil {
		return AlertsConfig{}
	}
	return *a
}

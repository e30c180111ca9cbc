package config

type Config struct {
	// Listen is the HTTP API bind address (host:port). Changing it requires
	// a restart; hot-reload logs and keeps the old listener.
	Listen string `json:"listen"`

	// OutputDir is the base directory under which each job gets its folder.
	OutputDir string `json:"output_dir"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Webhook   WebhookConfig   `json:"webhook"`
	Recorder  RecorderConfig  `json:"recorder"`
	Logging   LoggingConfig   `json:"logging"`

	// Archive controls the optional terminal-job audit archive.
	// Nil means disabled.
	Archive *ArchiveConfig `json:"archive,omitempty"`

	// Alerts controls optional operator alerts on job/webhook failures.
	// Nil means disabled.
	Alerts *AlertsConfig `json:"alerts,omitempty"`

	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Netprobe    NetprobeConfig    `json:"netprobe,omitempty"`
	Pprof       PprofConfig       `json:"pprof,omitempty"`
}

// SchedulerConfig bounds the job pipeline.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 3
//   - retention_keep: 50
//   - submit_queue_warn: 25
type SchedulerConfig struct {
	// MaxConcurrent is the intra-job parallelism bound handed to processors.
	// It does not change how many jobs run at once (always one).
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// RetentionKeep is how many terminal jobs the store keeps.
	RetentionKeep int `json:"retention_keep,omitempty"`

	// SubmitQueueWarn logs a warning when the pending backlog passes this.
	// 0 disables the warning.
	SubmitQueueWarn int `json:"submit_queue_warn,omitempty"`
}

// WebhookConfig controls terminal-outcome delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type WebhookConfig struct {
	// Timeout bounds a single delivery attempt. Default "15s".
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// RecorderConfig points at the capture backend.
type RecorderConfig struct {
	// BaseURL of the recording backend. Empty selects the built-in no-op
	// capturer (useful for dry runs and tests).
	BaseURL string `json:"base_url,omitempty"`

	// CaptureTimeout bounds one session capture. Default "5m".
	CaptureTimeout string `json:"capture_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ArchiveConfig controls the append-only terminal-job archive.
//
// The archive is write-behind audit data: the scheduler never reads it back,
// so deleting the file is always safe.
type ArchiveConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// AlertsConfig controls operator notifications (Telegram).
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"` // bot token (do not log)
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MaintenanceConfig holds cron specs for background sweeps.
// Empty spec disables the corresponding entry.
type MaintenanceConfig struct {
	RetentionSweep string `json:"retention_sweep,omitempty"`
	ArchiveVacuum  string `json:"archive_vacuum,omitempty"`
	BandwidthProbe string `json:"bandwidth_probe,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// NetprobeConfig controls on-demand bandwidth measurements.
type NetprobeConfig struct {
	// Timeout bounds a whole probe run. Default "90s".
	Timeout        string `json:"timeout,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

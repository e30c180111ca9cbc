package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
listen: "127.0.0.1:8080"
output_dir: "./recordings"
scheduler:
  max_concurrent: 3
  retention_keep: 50
webhook:
  timeout: "15s"
  rate_per_sec: 5
recorder:
  capture_timeout: "5m"
logging:
  level: "info"
  console: true
  file: { enabled: false, path: "" }
archive:
  enabled: true
  path: "./recq.db"
`

const sampleJSON = `{
  "listen": "127.0.0.1:8080",
  "output_dir": "./recordings",
  "scheduler": {"max_concurrent": 3, "retention_keep": 50},
  "webhook": {"timeout": "15s", "rate_per_sec": 5},
  "recorder": {"capture_timeout": "5m"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "archive": {"enabled": true, "path": "./recq.db"}
}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAndJSONEquivalent(t *testing.T) {
	t.Parallel()

	ycfg, err := NewManager(writeConfig(t, "recq.yaml", sampleYAML)).Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	jcfg, err := NewManager(writeConfig(t, "recq.json", sampleJSON)).Load()
	if err != nil {
		t.Fatalf("load json: %v", err)
	}

	if ycfg.Listen != jcfg.Listen || ycfg.OutputDir != jcfg.OutputDir {
		t.Fatalf("yaml/json mismatch: %+v vs %+v", ycfg, jcfg)
	}
	if ycfg.Scheduler != jcfg.Scheduler {
		t.Fatalf("scheduler mismatch: %+v vs %+v", ycfg.Scheduler, jcfg.Scheduler)
	}
	if ycfg.Archive == nil || jcfg.Archive == nil || *ycfg.Archive != *jcfg.Archive {
		t.Fatalf("archive mismatch: %+v vs %+v", ycfg.Archive, jcfg.Archive)
	}
	if ycfg.Scheduler.MaxConcurrent != 3 {
		t.Fatalf("max_concurrent = %d, want 3", ycfg.Scheduler.MaxConcurrent)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "recq.yaml", sampleYAML+"\nworkers: 4\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}

	m = NewManager(writeConfig(t, "recq.yaml", strings.Replace(sampleYAML, "max_concurrent: 3", "max_concurrent: 3\n  retry_max: 2", 1)))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown nested key")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "recq.json", sampleJSON+`{"listen": "x"}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for concatenated JSON documents")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "seconds", raw: "15s", want: 15 * time.Second},
		{name: "compound", raw: "1m30s", want: 90 * time.Second},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "missing unit", raw: "15", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("webhook.timeout", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) expected error", tt.raw)
				}
				if !strings.Contains(err.Error(), "webhook.timeout") {
					t.Fatalf("error %q should name the field path", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("webhook.timeout", "", 15*time.Second)
	if err != nil {
		t.Fatalf("ParseDurationOrDefault error: %v", err)
	}
	if got != 15*time.Second {
		t.Fatalf("default = %v, want 15s", got)
	}
}

func TestValidateListenAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "host and port", raw: "127.0.0.1:8080"},
		{name: "port only", raw: ":8080"},
		{name: "empty", raw: "", wantErr: true},
		{name: "no port", raw: "127.0.0.1", wantErr: true},
		{name: "bare host", raw: "localhost:", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateListenAddr("listen", tt.raw)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateListenAddr(%q) expected error", tt.raw)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateListenAddr(%q) error: %v", tt.raw, err)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Listen: "127.0.0.1:8080", Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Listen:  "127.0.0.1:9090",
		Logging: LoggingConfig{Level: "debug"},
		Alerts:  &AlertsConfig{Enabled: true, Token: "secret-token", ChatID: 42},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)

	want := map[string]bool{"listen": true, "logging": true, "alerts": true}
	for _, c := range changed {
		delete(want, c)
	}
	if len(want) != 0 {
		t.Fatalf("missing changed sections %v in %v", want, changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "motionscope.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	lc := cfg.ToLogConfig()
	if lc != DefaultLogConfig() {
		t.Fatalf("expected engine defaults %+v, got %+v", DefaultLogConfig(), lc)
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `
input:
  devices: ["/dev/input/event3", "/dev/input/event4"]
  reader: epoll
smoothing:
  fps: 60
ingest:
  policy: immediate
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Input.Devices) != 2 || cfg.Input.Reader != readerEpoll {
		t.Fatalf("unexpected input config: %+v", cfg.Input)
	}
	if cfg.Smoothing.FPS != 60 || cfg.Ingest.Policy != "immediate" {
		t.Fatalf("unexpected engine config: %+v %+v", cfg.Smoothing, cfg.Ingest)
	}
	// Untouched sections keep their defaults.
	if cfg.HTTP.Port != defaultHTTPPort || cfg.Retention.HorizonSec != defaultRetentionSec {
		t.Fatalf("expected defaults preserved, got http=%d retention=%v", cfg.HTTP.Port, cfg.Retention.HorizonSec)
	}
}

func TestLoadConfigFile_RejectsUnknownFieldsAndTrailingDocs(t *testing.T) {
	if _, err := LoadConfigFile(writeConfig(t, "smoothing:\n  fsp: 60\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := LoadConfigFile(writeConfig(t, "http:\n  port: 1\n---\nhttp:\n  port: 2\n")); err == nil {
		t.Fatalf("expected trailing document error")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	dev := "/dev/input/event9"
	port := "/dev/ttyUSB0"
	fps := 30.0
	zero := 0
	FlagOverrides{
		InputDevice: &dev,
		SerialPort:  &port,
		SmoothFPS:   &fps,
		HTTPPort:    &zero,
	}.Apply(&cfg)

	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != dev {
		t.Fatalf("expected device override, got %v", cfg.Input.Devices)
	}
	if !cfg.Serial.Enabled || cfg.Serial.Port != port {
		t.Fatalf("expected serial enabled on %s, got %+v", port, cfg.Serial)
	}
	if cfg.Smoothing.FPS != 30 {
		t.Fatalf("expected fps override, got %v", cfg.Smoothing.FPS)
	}
	if cfg.HTTP.Port != 0 {
		t.Fatalf("expected zero-value override applied, got %d", cfg.HTTP.Port)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"reader", func(c *Config) { c.Input.Reader = "poll" }, "input.reader"},
		{"empty device", func(c *Config) { c.Input.Devices = []string{""} }, "input.devices[0]"},
		{"serial port", func(c *Config) { c.Serial.Enabled = true; c.Serial.Port = "" }, "serial.port"},
		{"fps", func(c *Config) { c.Smoothing.FPS = 0 }, "smoothing.fps"},
		{"horizon", func(c *Config) { c.Retention.HorizonSec = -1 }, "retention.horizon_sec"},
		{"policy", func(c *Config) { c.Ingest.Policy = "lazy" }, "ingest.policy"},
		{"poll", func(c *Config) { c.Capture.PollIntervalMS = 0 }, "capture.poll_interval_ms"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x.yaml"); got != filepath.Join(home, "x.yaml") {
		t.Fatalf("unexpected expansion: %s", got)
	}
	if got := ExpandPath("/etc/x.yaml"); got != "/etc/x.yaml" {
		t.Fatalf("absolute path changed: %s", got)
	}
}

func TestLoadConfigFile_AllowsTrailingComments(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, "http:\n  port: 4000\n# trailing note\n\n"))
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.HTTP.Port != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.HTTP.Port)
	}
}

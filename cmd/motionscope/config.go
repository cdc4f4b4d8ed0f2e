package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the motionscope daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume a
// well-formed config. The config file is the primary configuration surface; flags
// are for small overrides.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Serial    SerialConfig    `yaml:"serial"`
	Capture   CaptureConfig   `yaml:"capture"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Retention RetentionConfig `yaml:"retention"`
	Ingest    IngestConfig    `yaml:"ingest"`
	View      ViewConfig      `yaml:"view"`
	IPC       IPCConfig       `yaml:"ipc"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	// Devices are evdev pointer devices (e.g. /dev/input/event3). May be empty
	// when samples arrive only through the serial feed or IPC.
	Devices []string `yaml:"devices"`
	// Reader selects the device reader: goroutine (one per device), epoll or select.
	Reader string `yaml:"reader"`
}

type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

type CaptureConfig struct {
	Autostart      bool `yaml:"autostart"`
	PollIntervalMS int  `yaml:"poll_interval_ms"`
}

type SmoothingConfig struct {
	FPS float64 `yaml:"fps"`
}

type RetentionConfig struct {
	HorizonSec float64 `yaml:"horizon_sec"`
}

type IngestConfig struct {
	Policy string `yaml:"policy"`
}

type ViewConfig struct {
	RefreshIntervalMS int  `yaml:"refresh_interval_ms"`
	Frozen            bool `yaml:"frozen"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Input reader names.
const (
	readerGoroutine = "goroutine"
	readerEpoll     = "epoll"
	readerSelect    = "select"
)

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Reader: readerGoroutine,
		},
		Serial: SerialConfig{
			Enabled:  false,
			Port:     "/dev/ttyACM0",
			BaudRate: defaultSerialBaud,
		},
		Capture: CaptureConfig{
			Autostart:      true,
			PollIntervalMS: defaultPollIntervalMS,
		},
		Smoothing: SmoothingConfig{
			FPS: defaultSmoothFPS,
		},
		Retention: RetentionConfig{
			HorizonSec: defaultRetentionSec,
		},
		Ingest: IngestConfig{
			Policy: string(PolicyStaged),
		},
		View: ViewConfig{
			RefreshIntervalMS: defaultRefreshIntervalMS,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/motionscope.sock",
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values that were explicitly set.
// Each pointer is applied only if non-nil (even if it points at a zero value).
type FlagOverrides struct {
	InputDevice *string
	InputReader *string

	SerialPort *string
	SerialBaud *int

	SmoothFPS    *float64
	RetentionSec *float64
	IngestPolicy *string

	PollIntervalMS    *int
	RefreshIntervalMS *int

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.InputReader != nil {
		cfg.Input.Reader = *o.InputReader
	}

	if o.SerialPort != nil {
		// Naming a port on the command line implies using it.
		cfg.Serial.Port = *o.SerialPort
		cfg.Serial.Enabled = *o.SerialPort != ""
	}
	if o.SerialBaud != nil {
		cfg.Serial.BaudRate = *o.SerialBaud
	}

	if o.SmoothFPS != nil {
		cfg.Smoothing.FPS = *o.SmoothFPS
	}
	if o.RetentionSec != nil {
		cfg.Retention.HorizonSec = *o.RetentionSec
	}
	if o.IngestPolicy != nil {
		cfg.Ingest.Policy = *o.IngestPolicy
	}

	if o.PollIntervalMS != nil {
		cfg.Capture.PollIntervalMS = *o.PollIntervalMS
	}
	if o.RefreshIntervalMS != nil {
		cfg.View.RefreshIntervalMS = *o.RefreshIntervalMS
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	switch c.Input.Reader {
	case readerGoroutine, readerEpoll, readerSelect:
	default:
		return fmt.Errorf("input.reader must be %q, %q or %q", readerGoroutine, readerEpoll, readerSelect)
	}

	// Serial
	if c.Serial.Enabled {
		if c.Serial.Port == "" {
			return errors.New("serial.enabled is true but serial.port is empty")
		}
		if c.Serial.BaudRate <= 0 {
			return errors.New("serial.baud_rate must be > 0")
		}
	}

	// Capture / view cadence
	if c.Capture.PollIntervalMS <= 0 || c.Capture.PollIntervalMS > 10000 {
		return errors.New("capture.poll_interval_ms must be between 1 and 10000")
	}
	if c.View.RefreshIntervalMS <= 0 || c.View.RefreshIntervalMS > 10000 {
		return errors.New("view.refresh_interval_ms must be between 1 and 10000")
	}

	// Engine
	if !(c.Smoothing.FPS > 0) || math.IsInf(c.Smoothing.FPS, 0) {
		return errors.New("smoothing.fps must be > 0")
	}
	if !validHorizon(c.Retention.HorizonSec) {
		return errors.New("retention.horizon_sec must be >= 0")
	}
	if _, err := ParseIngestPolicy(c.Ingest.Policy); err != nil {
		return fmt.Errorf("ingest.policy: %w", err)
	}

	// Surfaces
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535 (0 disables)")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.New(`logging.format must be "text" or "json"`)
	}

	return nil
}

// ToLogConfig converts the file config into the engine config.
func (c *Config) ToLogConfig() LogConfig {
	return LogConfig{
		BucketWidth: 1 / c.Smoothing.FPS,
		Horizon:     c.Retention.HorizonSec,
		Policy:      IngestPolicy(c.Ingest.Policy),
	}
}

// ToDaemonConfig converts the file config into daemon loop cadences.
func (c *Config) ToDaemonConfig() DaemonConfig {
	return DaemonConfig{
		PollInterval:    time.Duration(c.Capture.PollIntervalMS) * time.Millisecond,
		RefreshInterval: time.Duration(c.View.RefreshIntervalMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("motionscope v%s\n", version)
	fmt.Println("Pointer motion capture daemon with live resampling and retention")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  motionscope [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Captures relative pointer motion from Linux input devices (and optionally")
	fmt.Println("  a serial sample feed), derives positions and velocities, resamples them")
	fmt.Println("  onto a fixed bucket grid and streams both series over WebSocket.")
	fmt.Println("  Control and export are available over a Unix socket and HTTP.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device (replaces input.devices)")
	fmt.Println()
	fmt.Println("  -input-reader string")
	fmt.Println("        Device reader: goroutine|epoll|select (default \"goroutine\")")
	fmt.Println()
	fmt.Println("  -serial-port string")
	fmt.Println("        Serial port streaming JSON sample lines (enables the serial feed)")
	fmt.Println()
	fmt.Println("  -serial-baud int")
	fmt.Printf("        Serial baud rate (default %d)\n", defaultSerialBaud)
	fmt.Println()
	fmt.Println("  -smooth-fps float")
	fmt.Printf("        Smoothed series rate in buckets per second (default %.0f)\n", defaultSmoothFPS)
	fmt.Println()
	fmt.Println("  -retention-sec float")
	fmt.Printf("        Retention horizon in seconds, 0 keeps only the newest timestamp (default %.0f)\n", defaultRetentionSec)
	fmt.Println()
	fmt.Println("  -ingest-policy string")
	fmt.Println("        Ingest policy: immediate|staged (default \"staged\")")
	fmt.Println()
	fmt.Println("  -poll-interval-ms int")
	fmt.Printf("        Capture buffer drain interval in ms (default %d)\n", defaultPollIntervalMS)
	fmt.Println()
	fmt.Println("  -refresh-interval-ms int")
	fmt.Printf("        View flush/publish interval in ms (default %d)\n", defaultRefreshIntervalMS)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/motionscope.sock\")")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP port for /ws, /chart, /stats, /export; 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-format string")
	fmt.Println("        Log format: text|json (default \"text\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Capture one mouse with defaults")
	fmt.Println("  motionscope -input-device /dev/input/event5")
	fmt.Println()
	fmt.Println("  # 60 buckets/s, keep 30 s, smooth eagerly")
	fmt.Println("  motionscope -config ~/.config/motionscope.yaml -smooth-fps 60 -retention-sec 30 -ingest-policy immediate")
	fmt.Println()
	fmt.Println("  # Control a running daemon")
	fmt.Println("  motionscope-ctl freeze")
	fmt.Println("  motionscope-ctl export /tmp/session.json")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - Samples pushed over IPC/WebSocket are ingested even when capture is stopped")
	fmt.Println()
}

func main() {
	// Check for version/help early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath        = flag.String("config", "", "Path to YAML config file")
		inputDevice       = flag.String("input-device", "", "Linux input event device (e.g. /dev/input/event5)")
		inputReader       = flag.String("input-reader", readerGoroutine, "Device reader: goroutine|epoll|select")
		serialPort        = flag.String("serial-port", "", "Serial port streaming JSON sample lines")
		serialBaud        = flag.Int("serial-baud", defaultSerialBaud, "Serial baud rate")
		smoothFPS         = flag.Float64("smooth-fps", defaultSmoothFPS, "Smoothed series rate in buckets per second")
		retentionSec      = flag.Float64("retention-sec", defaultRetentionSec, "Retention horizon in seconds (0 keeps only the newest timestamp)")
		ingestPolicy      = flag.String("ingest-policy", string(PolicyStaged), "Ingest policy: immediate|staged")
		pollIntervalMS    = flag.Int("poll-interval-ms", defaultPollIntervalMS, "Capture buffer drain interval in ms")
		refreshIntervalMS = flag.Int("refresh-interval-ms", defaultRefreshIntervalMS, "View flush/publish interval in ms")
		ipcSocketPath     = flag.String("ipc-socket", "/tmp/motionscope.sock", "Unix domain socket path for IPC")
		httpPort          = flag.Int("http-port", defaultHTTPPort, "HTTP port (0 disables)")
		logLevelStr       = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFormat         = flag.String("log-format", "text", "Log format: text|json")
		showVersion       = flag.Bool("version", false, "Print version and exit")
		showHelp          = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Defaults, then file, then explicitly set flags.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			o.InputDevice = inputDevice
		case "input-reader":
			o.InputReader = inputReader
		case "serial-port":
			o.SerialPort = serialPort
		case "serial-baud":
			o.SerialBaud = serialBaud
		case "smooth-fps":
			o.SmoothFPS = smoothFPS
		case "retention-sec":
			o.RetentionSec = retentionSec
		case "ingest-policy":
			o.IngestPolicy = ingestPolicy
		case "poll-interval-ms":
			o.PollIntervalMS = pollIntervalMS
		case "refresh-interval-ms":
			o.RefreshIntervalMS = refreshIntervalMS
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "http-port":
			o.HTTPPort = httpPort
		case "log-level":
			o.LogLevel = logLevelStr
		case "log-format":
			o.LogFormat = logFormat
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(os.Stdout, logLevel, cfg.Logging.Format)

	// Open input devices up front so permission problems fail fast.
	var files []*os.File
	for _, dev := range cfg.Input.Devices {
		f, err := os.Open(ExpandPath(dev))
		if err != nil {
			logger.Error("failed to open input device", "device", dev, "error", err, "tip", "run as root or add user to 'input' group")
			os.Exit(1)
		}
		files = append(files, f)
	}
	closeFiles := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	state, err := NewDaemonState(cfg.ToLogConfig(), cfg.Capture.Autostart, cfg.View.Frozen)
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		closeFiles()
		os.Exit(1)
	}
	capture := newCaptureBuffer(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// events is the central bus into the daemon loop. control carries
	// reconfiguration from clients through the debouncer first.
	events := make(chan Event, 256)
	control := make(chan Event, 64)
	broadcasts := make(chan StateBroadcast, 64)
	fatal := make(chan error, 4)

	go runDebouncer(ctx, control, events, reconfigDebounceMS*time.Millisecond, logger)

	daemonDone := make(chan struct{})
	go func() {
		defer close(daemonDone)
		runDaemon(ctx, events, capture, state, cfg.ToDaemonConfig(), broadcasts, logger)
	}()

	wsServer := NewServer(logger, events, control, ServerConfig{})
	go wsServer.Hub().Run(ctx)
	go RunBroadcaster(ctx, wsServer.Hub(), broadcasts, logger)

	go func() {
		if err := runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), events, logger); err != nil {
			fatal <- fmt.Errorf("IPC server: %w", err)
		}
	}()

	if cfg.HTTP.Port > 0 {
		mux := http.NewServeMux()
		wsServer.Register(mux, "/ws")
		(&httpAPI{events: events, logger: logger}).Register(mux)

		go func() {
			if err := runHTTPServer(ctx, cfg.HTTP.Port, mux, logger); err != nil {
				fatal <- err
			}
		}()
	}

	// Input readers only touch the capture buffer.
	readErr := make(chan error, len(files)+1)
	if len(files) > 0 {
		switch cfg.Input.Reader {
		case readerEpoll:
			go readInputEventsEpoll(files, capture, readErr)
		case readerSelect:
			go readInputEventsSelect(files, capture, readErr)
		default:
			for _, f := range files {
				go readInputEvents(f, capture, readErr)
			}
		}
	}

	if cfg.Serial.Enabled {
		go func() {
			if err := runSerialFeed(ctx, cfg.Serial.Port, cfg.Serial.BaudRate, capture, logger); err != nil && ctx.Err() == nil {
				// IPC and WebSocket ingestion keep working without the feed.
				logger.Warn("serial feed stopped", "port", cfg.Serial.Port, "error", err)
			}
		}()
	}

	logger.Debug("starting motionscope", "version", version)
	logger.Debug("configuration",
		"input_devices", cfg.Input.Devices,
		"input_reader", cfg.Input.Reader,
		"serial_enabled", cfg.Serial.Enabled,
		"serial_port", cfg.Serial.Port,
		"smooth_fps", cfg.Smoothing.FPS,
		"retention_sec", cfg.Retention.HorizonSec,
		"ingest_policy", cfg.Ingest.Policy,
		"poll_interval_ms", cfg.Capture.PollIntervalMS,
		"refresh_interval_ms", cfg.View.RefreshIntervalMS,
		"autostart", cfg.Capture.Autostart)
	logger.Info("listening",
		"devices", len(files),
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"session", state.SessionID)

	// ============================================================================
	// Main Loop - Lifecycle Only
	// ============================================================================
	// All state lives in the daemon goroutine. This loop only waits for a
	// shutdown signal or a fatal error from one of the servers/readers.
	// ============================================================================

	select {
	case <-sigc:
		logger.Info("shutting down")
	case err := <-readErr:
		logger.Error("input reader stopped", "error", err)
	case err := <-fatal:
		logger.Error("fatal error", "error", err)
	}

	cancel()
	closeFiles()

	select {
	case <-daemonDone:
	case <-time.After(2 * time.Second):
		logger.Warn("daemon did not stop in time")
	}
}

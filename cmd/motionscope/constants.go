package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_REL = 0x02

	SYN_REPORT  = 0
	SYN_DROPPED = 3

	// Relative axis codes reported by mice and trackballs
	REL_X = 0x00
	REL_Y = 0x01
)

// Engine defaults
const (
	defaultSmoothFPS    = 144.0 // Smoothed series rate (buckets per second)
	defaultRetentionSec = 100.0 // Retention horizon for raw and smoothed series (seconds)

	// rateWindowSec is the trailing window used for the events-per-second readout.
	// It is not configurable.
	rateWindowSec = 1.0

	// wireTimeScale converts wire timestamps (milliseconds) into engine seconds.
	wireTimeScale = 1000.0
)

// Daemon cadence defaults
const (
	defaultPollIntervalMS    = 200 // Capture buffer drain interval (ms)
	defaultRefreshIntervalMS = 200 // View refresh/flush interval (ms)
	defaultHTTPPort          = 3010
	defaultSerialBaud        = 115200

	// reconfigDebounceMS bounds how often smoothing/retention changes from
	// clients reach the daemon. Recompute is O(retained raw samples).
	reconfigDebounceMS = 100

	// requestTimeoutMS bounds IPC/HTTP round-trips through the daemon loop.
	requestTimeoutMS = 2000
)

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The daemon goroutine is the single owner of DaemonState (and its MotionLog).
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Input goroutines only touch the captureBuffer; the poll tick drains it
//     into a SamplesCaptured event.
//
// ============================================================================

// DaemonConfig holds the daemon loop cadences.
type DaemonConfig struct {
	// PollInterval is how often the capture buffer is drained into the engine.
	PollInterval time.Duration
	// RefreshInterval is how often the view is flushed and published.
	RefreshInterval time.Duration
}

// runDaemon is the main daemon loop that:
//   - Receives Events from IPC/WS/internal sources
//   - Drains the capture buffer on the poll tick
//   - Emits RefreshTick on the refresh tick
//   - Reduces events, executes commands and forwards broadcasts
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	capture *captureBuffer,
	state *DaemonState,
	cfg DaemonConfig,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollIntervalMS * time.Millisecond
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshIntervalMS * time.Millisecond
	}

	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(cfg.RefreshInterval)
	defer refresh.Stop()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	emit := func(bcs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bcs {
			select {
			case broadcasts <- b:
			default:
				// Clients missed points; bring them back with a full reset.
				logger.Warn("broadcast queue full, dropping broadcast; clients will resync")
				state.RequestResync()
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			before := state.Log.OutOfOrder()

			rr := Reduce(state, ev)
			if rr.State != nil {
				state = rr.State
			}
			if rr.Err != nil {
				logger.Warn("event rejected", "event", eventName(ev), "error", rr.Err)
			} else {
				logReduced(ev, state, logger)
			}
			if n := state.Log.OutOfOrder(); n > before {
				logger.Warn("out-of-order samples", "count", n-before, "total", n)
			}

			cmdQueue = append(cmdQueue, rr.Commands...)
			emit(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			runEffect(capture, cmd, logger)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()

		case now := <-poll.C:
			if capture == nil {
				continue
			}
			samples := capture.drain()
			if len(samples) == 0 {
				continue
			}
			enqueueEvent(SamplesCaptured{Samples: samples, At: now})
			flushEvents()
			flushCommands()

		case now := <-refresh.C:
			enqueueEvent(RefreshTick{Now: now})
			flushEvents()
			flushCommands()
		}
	}
}

// logReduced logs state transitions worth an info line.
func logReduced(ev Event, s *DaemonState, logger *slog.Logger) {
	switch e := ev.(type) {
	case StartCapture:
		logger.Info("capture started", "session", s.SessionID)
	case StopCapture:
		logger.Info("capture stopped", "session", s.SessionID)
	case ClearSeries:
		logger.Info("series cleared", "session", s.SessionID)
	case ImportSeries:
		logger.Info("series imported", "session", s.SessionID, "raw", len(s.Log.Raw()))
	case SetSmoothFPS:
		logger.Info("smoothing changed", "fps", e.FPS, "bucket_width", s.Log.Config().BucketWidth)
	case SetRetention:
		logger.Info("retention changed", "horizon_sec", s.Log.Config().Horizon)
	case SetIngestPolicy:
		logger.Info("ingest policy changed", "policy", s.Log.Config().Policy)
	}
}

// eventName is the log name of an event.
func eventName(ev Event) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", ev), "main.")
}

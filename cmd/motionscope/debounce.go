package main

import (
	"context"
	"log/slog"
	"time"
)

// runDebouncer forwards client control events to the daemon, coalescing bursty
// reconfiguration (slider drags) latest-wins. Smoothing changes trigger a full
// recompute, so at most one SetSmoothFPS and one SetRetention reach the daemon
// per window. The window does not restart on each update; a continuous drag
// still applies every window.
//
// Other events flush any pending reconfiguration first, so ordering is preserved.
func runDebouncer(ctx context.Context, in <-chan Event, out chan<- Event, window time.Duration, logger *slog.Logger) {
	if window <= 0 {
		window = reconfigDebounceMS * time.Millisecond
	}

	var pendingFPS *SetSmoothFPS
	var pendingRet *SetRetention
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flush := func() bool {
		if pendingFPS != nil {
			ev := *pendingFPS
			pendingFPS = nil
			if !send(ev) {
				return false
			}
		}
		if pendingRet != nil {
			ev := *pendingRet
			pendingRet = nil
			if !send(ev) {
				return false
			}
		}
		return true
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	startTimerIfNeeded := func() {
		if timer != nil {
			return
		}
		timer = time.NewTimer(window)
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return

		case <-timerCh:
			stopTimer()
			if !flush() {
				return
			}

		case ev, ok := <-in:
			if !ok {
				stopTimer()
				flush()
				logger.Debug("debouncer stopping (source ended)")
				return
			}

			switch e := ev.(type) {
			case SetSmoothFPS:
				pendingFPS = &e
				startTimerIfNeeded()
				continue
			case SetRetention:
				pendingRet = &e
				startTimerIfNeeded()
				continue
			}

			stopTimer()
			if !flush() || !send(ev) {
				return
			}
		}
	}
}

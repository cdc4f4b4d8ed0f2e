package main

import (
	"fmt"
	"time"
)

// This file implements the reducer:
//
//   - Events: inputs (captured samples, ticks, controls, requests)
//   - Commands: side effects for the effects stage (capture restart, replies)
//   - Broadcasts: notifications for WebSocket clients
//   - Reduce(): computes next state + commands + broadcasts, without performing I/O
//
// The daemon loop executes Commands and forwards Broadcasts.

// ReduceResult is the output of Reduce().
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast

	// Err reports a rejected event (invalid reconfiguration, bad import).
	// State is unchanged by a rejected event.
	Err error
}

// Reduce applies one event to the daemon state.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *DaemonState, e Event) ReduceResult {
	if s == nil || s.Log == nil {
		st, _ := NewDaemonState(DefaultLogConfig(), false, false)
		s = st
	}

	var (
		cmds []Command
		bcs  []StateBroadcast
		err  error
	)

	now := time.Now()

	viewChanged := func() {
		bcs = append(bcs, BroadcastViewState{View: s.View(), At: now})
	}
	reset := func(reason string) {
		bcs = append(bcs, BroadcastSeriesReset{Snapshot: s.Snapshot(now), Reason: reason})
		s.MarkSent()
	}
	// publish sends what became visible since the last broadcast.
	publish := func() {
		if s.resync {
			reset("resync")
			return
		}
		raw, smoothed, ok := s.Log.appendedSince(s.sent)
		if !ok {
			reset("recompute")
			return
		}
		rate := s.Log.Rate()
		if len(raw) == 0 && len(smoothed) == 0 && rate == s.sentRate {
			return
		}
		bcs = append(bcs, BroadcastSeriesAppended{Raw: raw, Smoothed: smoothed, Rate: rate, At: now})
		s.MarkSent()
	}

	switch ev := e.(type) {
	case SamplesCaptured:
		// Device samples only count while capturing; the buffer may still hold
		// frames that arrived between StopCapture and the next drain.
		if s.Capturing {
			s.Log.PushBatch(ev.Samples)
		}

	case PushSamples:
		for _, w := range ev.Samples {
			s.Log.Push(w.Raw())
		}

	case RefreshTick:
		if !s.Frozen {
			s.Log.Flush()
			publish()
		}

	case FlushSeries:
		s.Log.Flush()
		publish()

	case ClearSeries:
		s.Log.Clear()
		s.NewSession()
		cmds = append(cmds, CmdRestartCapture{})
		reset("clear")
		viewChanged()

	case SetSmoothFPS:
		if err = s.Log.SetSmoothFPS(ev.FPS); err == nil {
			// The smoothed series was rebuilt; publish turns the generation change into a reset.
			publish()
			viewChanged()
		}

	case SetRetention:
		if err = s.Log.SetRetention(ev.Seconds); err == nil {
			viewChanged()
		}

	case SetIngestPolicy:
		if err = s.Log.SetPolicy(ev.Policy); err == nil {
			if !s.Frozen {
				publish()
			}
			viewChanged()
		}

	case FreezeView:
		if !s.Frozen {
			s.Frozen = true
			viewChanged()
		}

	case ResumeView:
		if s.Frozen {
			s.Frozen = false
			viewChanged()
		}

	case ToggleFreeze:
		s.Frozen = !s.Frozen
		viewChanged()

	case StartCapture:
		s.Log.Clear()
		s.NewSession()
		s.Capturing = true
		s.Frozen = false
		cmds = append(cmds, CmdRestartCapture{})
		reset("start")
		viewChanged()

	case StopCapture:
		if s.Capturing {
			s.Capturing = false
			s.Log.Flush()
			publish()
			s.Frozen = true
			viewChanged()
		}

	case RequestSnapshot:
		cmds = append(cmds, CmdPublishSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot(now)})

	case RequestExport:
		cfg := s.Log.Config()
		cmds = append(cmds, CmdPublishExport{
			Reply:  ev.Reply,
			Points: s.Log.RawAll(),
			Meta: ExportMeta{
				Session:      s.SessionID,
				ExportedAt:   now,
				BucketWidth:  cfg.BucketWidth,
				RetentionSec: cfg.Horizon,
			},
		})

	case ImportSeries:
		samples, meta, decErr := UnmarshalExport(ev.Data)
		if decErr != nil {
			err = fmt.Errorf("import: %w", decErr)
			cmds = append(cmds, CmdReplyError{Reply: ev.Reply, Err: err})
			break
		}
		// Imported data is replayed under the current configuration; the document's
		// bucket width is informational.
		s.Capturing = false
		ImportInto(s.Log, samples)
		s.Log.Flush()
		if meta.Session != "" {
			s.SessionID = meta.Session
		} else {
			s.NewSession()
		}
		cmds = append(cmds, CmdReplyError{Reply: ev.Reply})
		reset("import")
		viewChanged()

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcs,
		Err:        err,
	}
}

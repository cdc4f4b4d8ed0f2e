package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents a side effect to be executed by the daemon loop after a reduce step.
type Command interface {
	commandMarker()
	String() string
}

// CmdRestartCapture moves the capture start to now and drops undrained samples.
type CmdRestartCapture struct{}

func (CmdRestartCapture) commandMarker() {}
func (CmdRestartCapture) String() string { return "CmdRestartCapture()" }

// CmdPublishSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishSnapshot struct {
	Reply    chan SeriesSnapshot
	Snapshot SeriesSnapshot
}

func (CmdPublishSnapshot) commandMarker() {}
func (c CmdPublishSnapshot) String() string {
	return fmt.Sprintf("CmdPublishSnapshot(raw=%d, smoothed=%d)", len(c.Snapshot.Log.Raw), len(c.Snapshot.Log.Smoothed))
}

// CmdPublishExport encodes the raw series and delivers the document.
type CmdPublishExport struct {
	Reply  chan ExportReply
	Points []DerivedPoint
	Meta   ExportMeta
}

func (CmdPublishExport) commandMarker() {}
func (c CmdPublishExport) String() string {
	return fmt.Sprintf("CmdPublishExport(points=%d)", len(c.Points))
}

// CmdReplyError delivers the outcome of a request (nil on success).
type CmdReplyError struct {
	Reply chan error
	Err   error
}

func (CmdReplyError) commandMarker() {}
func (c CmdReplyError) String() string { return fmt.Sprintf("CmdReplyError(err=%v)", c.Err) }

// ==============================
// Broadcasts (WS fan-out)
// ==============================

// StateBroadcast is a reducer-emitted notification for WebSocket clients.
// Broadcasts carry copies; they are safe to hand to other goroutines.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSeriesAppended carries the visible points published since the last broadcast.
type BroadcastSeriesAppended struct {
	Raw      []DerivedPoint
	Smoothed []DerivedPoint
	Rate     int
	At       time.Time
}

func (BroadcastSeriesAppended) broadcastMarker() {}

// BroadcastSeriesReset replaces the client-side series (clear, import, recompute, resync).
type BroadcastSeriesReset struct {
	Snapshot SeriesSnapshot
	Reason   string
}

func (BroadcastSeriesReset) broadcastMarker() {}

// BroadcastViewState reports capture/view/config changes.
type BroadcastViewState struct {
	View ViewState
	At   time.Time
}

func (BroadcastViewState) broadcastMarker() {}

package main

import (
	"log/slog"
	"time"
)

// runEffect executes a single reducer-emitted Command.
//
// Design rules:
// - This function is allowed to perform I/O (capture restart, reply channels, encoding).
// - It must never call Reduce() directly.
// - Replies never block the daemon loop; requesters use buffered channels.
func runEffect(capture *captureBuffer, cmd Command, logger *slog.Logger) {
	switch c := cmd.(type) {
	case CmdRestartCapture:
		if capture == nil {
			return
		}
		dropped := capture.droppedCount()
		capture.restart(time.Now())
		if dropped > 0 {
			logger.Warn("capture restarted", "dropped_frames", dropped)
		} else {
			logger.Debug("capture restarted")
		}

	case CmdPublishSnapshot:
		if c.Reply == nil {
			logger.Warn("snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("snapshot reply channel not ready; dropping snapshot")
		}

	case CmdPublishExport:
		if c.Reply == nil {
			logger.Warn("export requested with nil reply channel")
			return
		}
		data, err := MarshalExport(c.Points, c.Meta)
		if err != nil {
			logger.Error("export encode failed", "error", err)
		}
		select {
		case c.Reply <- ExportReply{Data: data, Err: err}:
		default:
			logger.Warn("export reply channel not ready; dropping export")
		}

	case CmdReplyError:
		if c.Reply == nil {
			return
		}
		select {
		case c.Reply <- c.Err:
		default:
			logger.Warn("reply channel not ready; dropping result", "error", c.Err)
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

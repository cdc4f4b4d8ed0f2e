package main

import (
	"time"

	"github.com/google/uuid"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Other goroutines get copies through
// RequestSnapshot / broadcasts; never hand out *DaemonState or *MotionLog.
type DaemonState struct {
	// Log is the motion engine (series store + ingestion coordinator).
	Log *MotionLog

	// Capturing gates ingestion of device samples (SamplesCaptured).
	Capturing bool

	// Frozen stops the periodic flush/publish on RefreshTick.
	Frozen bool

	// SessionID identifies the current capture session; it changes on start/clear/import.
	SessionID string

	// sent is how far WebSocket clients have been brought up to date.
	sent     seriesCursor
	sentRate int
	// resync forces the next publish to be a full reset (e.g. a broadcast was dropped).
	resync bool
}

// ViewState is the externally visible capture/view/config state.
type ViewState struct {
	Session      string       `json:"session"`
	Capturing    bool         `json:"capturing"`
	Frozen       bool         `json:"frozen"`
	Policy       IngestPolicy `json:"policy"`
	BucketWidth  float64      `json:"bucket_width"`
	SmoothFPS    float64      `json:"smooth_fps"`
	RetentionSec float64      `json:"retention_sec"`
}

// SeriesSnapshot is a coherent copy of the daemon's series state.
type SeriesSnapshot struct {
	View ViewState
	Log  LogSnapshot
	At   time.Time
}

// NewDaemonState builds the initial state with a fresh session.
func NewDaemonState(cfg LogConfig, capturing, frozen bool) (*DaemonState, error) {
	log, err := NewMotionLog(cfg)
	if err != nil {
		return nil, err
	}
	s := &DaemonState{
		Log:       log,
		Capturing: capturing,
		Frozen:    frozen,
	}
	s.NewSession()
	return s, nil
}

// NewSession assigns a new session ID.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) NewSession() {
	s.SessionID = uuid.NewString()
}

// View returns the current view state.
func (s *DaemonState) View() ViewState {
	cfg := s.Log.Config()
	return ViewState{
		Session:      s.SessionID,
		Capturing:    s.Capturing,
		Frozen:       s.Frozen,
		Policy:       cfg.Policy,
		BucketWidth:  cfg.BucketWidth,
		SmoothFPS:    1 / cfg.BucketWidth,
		RetentionSec: cfg.Horizon,
	}
}

// Snapshot copies the series state.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot(now time.Time) SeriesSnapshot {
	return SeriesSnapshot{
		View: s.View(),
		Log:  s.Log.Snapshot(),
		At:   now,
	}
}

// MarkSent records that clients have seen everything currently visible.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) MarkSent() {
	s.sent = s.Log.cursor()
	s.sentRate = s.Log.Rate()
	s.resync = false
}

// RequestResync makes the next publish a full reset.
// This is intended to be called only by the daemon goroutine (single-owner),
// after a broadcast could not be delivered.
func (s *DaemonState) RequestResync() {
	s.resync = true
}

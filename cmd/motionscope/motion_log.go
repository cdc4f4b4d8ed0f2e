package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/gammazero/deque"
)

// ============================================================================
// MotionLog - ingestion coordinator + series store
// ============================================================================
//
// MotionLog keeps three time-ordered series:
//   - raw: one DerivedPoint per pushed sample
//   - smoothed: one DerivedPoint per closed resampler bucket
//   - rate window: the samples of the trailing second (events/s readout)
//
// Every push runs derive -> append -> resample -> evict. With the staged policy,
// new raw and smoothed points go to hidden staging buffers until Flush; derivation
// always chains onto the true last point, so continuity does not depend on the
// policy.
//
// MotionLog has no internal locking. In the daemon it is owned by the daemon
// goroutine; every operation runs to completion before the next one starts.
//
// ============================================================================

// IngestPolicy selects where newly derived points are appended.
type IngestPolicy string

const (
	// PolicyImmediate appends directly to the visible series.
	PolicyImmediate IngestPolicy = "immediate"
	// PolicyStaged appends to staging buffers; Flush publishes them.
	PolicyStaged IngestPolicy = "staged"
)

// ParseIngestPolicy validates a policy name.
func ParseIngestPolicy(s string) (IngestPolicy, error) {
	switch IngestPolicy(s) {
	case PolicyImmediate, PolicyStaged:
		return IngestPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid ingest policy: %q (must be %q or %q)", s, PolicyImmediate, PolicyStaged)
	}
}

// LogConfig is the engine configuration.
type LogConfig struct {
	// BucketWidth is the resampler bucket width in seconds (> 0).
	BucketWidth float64
	// Horizon is the retention horizon in seconds (>= 0).
	Horizon float64
	Policy  IngestPolicy
}

// DefaultLogConfig returns the engine defaults (144 buckets/s, 100 s retention, staged).
func DefaultLogConfig() LogConfig {
	return LogConfig{
		BucketWidth: 1 / defaultSmoothFPS,
		Horizon:     defaultRetentionSec,
		Policy:      PolicyStaged,
	}
}

var (
	errBadBucketWidth = errors.New("bucket width must be finite and > 0")
	errBadHorizon     = errors.New("retention horizon must be finite and >= 0")
	errBadFPS         = errors.New("smoothing fps must be finite and > 0")
)

func (c LogConfig) validate() error {
	if !validBucketWidth(c.BucketWidth) {
		return fmt.Errorf("%w (got %v)", errBadBucketWidth, c.BucketWidth)
	}
	if !validHorizon(c.Horizon) {
		return fmt.Errorf("%w (got %v)", errBadHorizon, c.Horizon)
	}
	if _, err := ParseIngestPolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

func validBucketWidth(w float64) bool { return w > 0 && !math.IsInf(w, 0) && !math.IsNaN(w) }

func validHorizon(h float64) bool { return h >= 0 && !math.IsInf(h, 0) && !math.IsNaN(h) }

// MotionLog is the streaming motion engine. The zero value is not usable; use NewMotionLog.
type MotionLog struct {
	cfg LogConfig

	raw      series
	smoothed series
	bucket   bucketState
	rate     deque.Deque[RawSample]

	pushed     uint64
	outOfOrder uint64
	evicted    uint64
}

// NewMotionLog returns an empty engine.
func NewMotionLog(cfg LogConfig) (*MotionLog, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MotionLog{cfg: cfg}, nil
}

// Config returns the current engine configuration.
func (m *MotionLog) Config() LogConfig { return m.cfg }

// ============================================================================
// Ingestion
// ============================================================================

// Push ingests one sample. Non-finite values are not validated.
//
// Timestamps are expected to be non-decreasing. Out-of-order samples are accepted
// and counted (see OutOfOrder); the resulting negative DT/velocities and
// retention behavior are undefined but never panic.
func (m *MotionLog) Push(s RawSample) {
	staged := m.cfg.Policy == PolicyStaged

	prev := m.raw.last()
	if prev != nil && s.T < prev.T {
		m.outOfOrder++
	}
	m.raw.push(derivePoint(prev, s.T, s.DX, s.DY), staged)
	m.feedBucket(s, staged)
	m.rate.PushBack(s)
	m.pushed++

	m.evict()
}

// PushBatch pushes samples in order.
func (m *MotionLog) PushBatch(samples []RawSample) {
	for _, s := range samples {
		m.Push(s)
	}
}

// feedBucket runs one resampler step and appends the smoothed point of a closed
// bucket, chained onto the last smoothed point.
func (m *MotionLog) feedBucket(s RawSample, staged bool) {
	b, closed := resampleStep(&m.bucket, m.cfg.BucketWidth, s)
	if !closed {
		return
	}
	m.smoothed.push(derivePoint(m.smoothed.last(), b.T, b.DX, b.DY), staged)
}

func (m *MotionLog) evict() {
	m.evicted += uint64(m.raw.evict(m.cfg.Horizon))
	m.evicted += uint64(m.smoothed.evict(m.cfg.Horizon))
	if m.rate.Len() > 0 {
		trimFront(&m.rate, m.rate.Back().T, rateWindowSec, sampleTime)
	}
}

// Flush publishes all staged raw and smoothed points to the visible series.
// It returns the number of raw and smoothed points moved.
func (m *MotionLog) Flush() (raw, smoothed int) {
	return m.raw.flush(), m.smoothed.flush()
}

// ============================================================================
// Reset / reconfiguration
// ============================================================================

// Clear resets every series, the staging buffers, the accumulator, and the rate window.
func (m *MotionLog) Clear() {
	m.raw.reset()
	m.smoothed.reset()
	m.bucket.reset()
	m.rate.Clear()
	m.pushed = 0
	m.outOfOrder = 0
	m.evicted = 0
}

// SetBucketWidth changes the resampler bucket width and recomputes the smoothed
// series from the retained raw history.
//
// Raw samples already evicted are not part of the replay, so the smoothed
// history they covered is permanently lost.
func (m *MotionLog) SetBucketWidth(w float64) error {
	if !validBucketWidth(w) {
		return fmt.Errorf("%w (got %v)", errBadBucketWidth, w)
	}
	m.cfg.BucketWidth = w
	m.recompute()
	return nil
}

// SetSmoothFPS sets the bucket width to 1/fps seconds.
func (m *MotionLog) SetSmoothFPS(fps float64) error {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return fmt.Errorf("%w (got %v)", errBadFPS, fps)
	}
	return m.SetBucketWidth(1 / fps)
}

// SetRetention changes the retention horizon. It takes effect on the next push.
func (m *MotionLog) SetRetention(h float64) error {
	if !validHorizon(h) {
		return fmt.Errorf("%w (got %v)", errBadHorizon, h)
	}
	m.cfg.Horizon = h
	return nil
}

// SetPolicy switches the ingest policy. Leaving the staged policy flushes first.
func (m *MotionLog) SetPolicy(p IngestPolicy) error {
	if _, err := ParseIngestPolicy(string(p)); err != nil {
		return err
	}
	if m.cfg.Policy == PolicyStaged && p == PolicyImmediate {
		m.Flush()
	}
	m.cfg.Policy = p
	return nil
}

// recompute rebuilds the smoothed series by replaying the retained raw samples
// through a fresh accumulator: visible raw into visible smoothed, then staged raw
// into staged smoothed.
func (m *MotionLog) recompute() {
	m.smoothed.reset()
	m.bucket.reset()
	for i := 0; i < m.raw.visible.Len(); i++ {
		m.feedBucket(m.raw.visible.At(i).Sample(), false)
	}
	for i := 0; i < m.raw.staged.Len(); i++ {
		m.feedBucket(m.raw.staged.At(i).Sample(), true)
	}
	m.evicted += uint64(m.smoothed.evict(m.cfg.Horizon))
}

// ============================================================================
// Read side
// ============================================================================

// Raw returns a copy of the visible raw series.
func (m *MotionLog) Raw() []DerivedPoint { return m.raw.visibleSlice() }

// Smoothed returns a copy of the visible smoothed series.
func (m *MotionLog) Smoothed() []DerivedPoint { return m.smoothed.visibleSlice() }

// RawAll returns the logical raw series (visible then staged). This is what export writes.
func (m *MotionLog) RawAll() []DerivedPoint {
	return append(m.raw.visibleSlice(), m.raw.stagedSlice()...)
}

// Rate returns the number of samples received in the trailing second.
func (m *MotionLog) Rate() int { return m.rate.Len() }

// OutOfOrder returns how many pushes went backwards in time since the last Clear.
func (m *MotionLog) OutOfOrder() uint64 { return m.outOfOrder }

// LogSnapshot is a read-only copy of the engine state.
type LogSnapshot struct {
	Raw      []DerivedPoint
	Smoothed []DerivedPoint

	Rate           int
	StagedRaw      int
	StagedSmoothed int
	PendingBucket  int
	LastFrameTime  float64

	BucketWidth float64
	Horizon     float64
	Policy      IngestPolicy

	Pushed     uint64
	OutOfOrder uint64
	Evicted    uint64
}

// Snapshot copies the visible series plus counters and configuration.
func (m *MotionLog) Snapshot() LogSnapshot {
	return LogSnapshot{
		Raw:            m.Raw(),
		Smoothed:       m.Smoothed(),
		Rate:           m.Rate(),
		StagedRaw:      m.raw.staged.Len(),
		StagedSmoothed: m.smoothed.staged.Len(),
		PendingBucket:  len(m.bucket.pending),
		LastFrameTime:  m.bucket.lastFrameTime,
		BucketWidth:    m.cfg.BucketWidth,
		Horizon:        m.cfg.Horizon,
		Policy:         m.cfg.Policy,
		Pushed:         m.pushed,
		OutOfOrder:     m.outOfOrder,
		Evicted:        m.evicted,
	}
}

// seriesCursor marks how much of the visible raw/smoothed series a consumer has seen.
type seriesCursor struct {
	rawGen, smoothedGen   uint64
	rawMark, smoothedMark uint64
}

// cursor returns the current end of both visible series.
func (m *MotionLog) cursor() seriesCursor {
	return seriesCursor{
		rawGen:       m.raw.gen,
		smoothedGen:  m.smoothed.gen,
		rawMark:      m.raw.appended,
		smoothedMark: m.smoothed.appended,
	}
}

// appendedSince returns the visible points appended after c. ok is false when either
// series was replaced (clear/recompute) since c was taken; the consumer then needs a
// full snapshot.
func (m *MotionLog) appendedSince(c seriesCursor) (raw, smoothed []DerivedPoint, ok bool) {
	if c.rawGen != m.raw.gen || c.smoothedGen != m.smoothed.gen {
		return nil, nil, false
	}
	return m.raw.since(c.rawMark), m.smoothed.since(c.smoothedMark), true
}

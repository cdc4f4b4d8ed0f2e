package main

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestLog(t *testing.T, width, horizon float64, policy IngestPolicy) *MotionLog {
	t.Helper()
	m, err := NewMotionLog(LogConfig{BucketWidth: width, Horizon: horizon, Policy: policy})
	if err != nil {
		t.Fatalf("NewMotionLog: %v", err)
	}
	return m
}

// jitterSamples returns n samples with uneven spacing and mixed-sign deltas.
// The sequence is deterministic so tests can replay it.
func jitterSamples(n int) []RawSample {
	out := make([]RawSample, 0, n)
	t := 0.0
	for i := 0; i < n; i++ {
		t += 0.001 + float64(i%7)*0.0013
		if i%11 == 0 {
			t += 0.02 // occasional gap larger than a bucket
		}
		out = append(out, RawSample{
			T:  t,
			DX: float64(i%5 - 2),
			DY: float64((i*3)%7 - 3),
		})
	}
	return out
}

var equateNaNs = cmpopts.EquateNaNs()

func TestMotionLog_ExampleScenario(t *testing.T) {
	m := newTestLog(t, 500, 1e9, PolicyImmediate)

	m.Push(RawSample{T: 0, DX: 5, DY: 0})
	m.Push(RawSample{T: 500, DX: 3, DY: 0})
	m.Push(RawSample{T: 1200, DX: -2, DY: 0})

	raw := m.Raw()
	var xs []float64
	for _, p := range raw {
		xs = append(xs, p.X)
	}
	if diff := cmp.Diff([]float64{5, 8, 6}, xs); diff != "" {
		t.Fatalf("raw x mismatch (-want +got):\n%s", diff)
	}

	want := []DerivedPoint{{
		T: 500, X: 8, Y: 0, DT: 0, DX: 8, DY: 0,
		VX: math.NaN(), VY: math.NaN(),
	}}
	if diff := cmp.Diff(want, m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("smoothed mismatch (-want +got):\n%s", diff)
	}

	snap := m.Snapshot()
	if snap.LastFrameTime != 500 {
		t.Fatalf("expected lastFrameTime=500, got %v", snap.LastFrameTime)
	}
	if snap.PendingBucket != 1 {
		t.Fatalf("expected the t=1200 sample to be pending, got %d", snap.PendingBucket)
	}
}

func TestMotionLog_ContinuityAndVelocitySentinel(t *testing.T) {
	for _, policy := range []IngestPolicy{PolicyImmediate, PolicyStaged} {
		t.Run(string(policy), func(t *testing.T) {
			m := newTestLog(t, 0.005, 1e9, policy)
			samples := jitterSamples(400)
			for i, s := range samples {
				m.Push(s)
				if i%37 == 0 {
					m.Flush()
				}
			}
			m.Flush()

			raw := m.Raw()
			if len(raw) != len(samples) {
				t.Fatalf("expected %d raw points, got %d", len(samples), len(raw))
			}
			checkSeriesInvariants(t, "raw", raw)

			sm := m.Smoothed()
			if len(sm) == 0 {
				t.Fatalf("expected smoothed points")
			}
			checkSeriesInvariants(t, "smoothed", sm)
		})
	}
}

func TestMotionLog_DuplicateTimestampsYieldNaN(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyImmediate)
	m.Push(RawSample{T: 1, DX: 1})
	m.Push(RawSample{T: 1, DX: 2})
	m.Push(RawSample{T: 2, DX: 3})

	raw := m.Raw()
	if !math.IsNaN(raw[1].VX) {
		t.Fatalf("expected NaN vx for duplicate timestamp, got %v", raw[1].VX)
	}
	if raw[2].VX != 3 {
		t.Fatalf("expected vx=3, got %v", raw[2].VX)
	}
}

func TestMotionLog_BucketDeterminismOnNoopReconfigure(t *testing.T) {
	const w = 0.004
	m := newTestLog(t, w, 1e9, PolicyImmediate)
	m.PushBatch(jitterSamples(500))

	direct := m.Smoothed()
	if len(direct) == 0 {
		t.Fatalf("expected smoothed points")
	}

	if err := m.SetBucketWidth(w); err != nil {
		t.Fatalf("SetBucketWidth: %v", err)
	}
	if diff := cmp.Diff(direct, m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("recompute differs from direct resampling (-direct +recomputed):\n%s", diff)
	}
}

func TestMotionLog_RecomputeMatchesFreshIngestWithNewWidth(t *testing.T) {
	samples := jitterSamples(300)

	m := newTestLog(t, 0.002, 1e9, PolicyImmediate)
	m.PushBatch(samples)
	if err := m.SetBucketWidth(0.01); err != nil {
		t.Fatalf("SetBucketWidth: %v", err)
	}

	fresh := newTestLog(t, 0.01, 1e9, PolicyImmediate)
	fresh.PushBatch(samples)

	if diff := cmp.Diff(fresh.Smoothed(), m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("recomputed smoothed differs from fresh ingest (-fresh +recomputed):\n%s", diff)
	}
	if got, want := m.Snapshot().LastFrameTime, fresh.Snapshot().LastFrameTime; got != want {
		t.Fatalf("lastFrameTime=%v, want %v", got, want)
	}

	// Continuing after a recompute must match continuing the fresh engine.
	tail := RawSample{T: samples[len(samples)-1].T + 0.5, DX: 1, DY: 1}
	m.Push(tail)
	fresh.Push(tail)
	if diff := cmp.Diff(fresh.Smoothed(), m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("post-recompute ingest diverged (-fresh +recomputed):\n%s", diff)
	}
}

func TestMotionLog_RecomputeKeepsStagedSplit(t *testing.T) {
	m := newTestLog(t, 0.002, 1e9, PolicyStaged)
	samples := jitterSamples(200)

	m.PushBatch(samples[:120])
	m.Flush()
	m.PushBatch(samples[120:])

	if err := m.SetBucketWidth(0.006); err != nil {
		t.Fatalf("SetBucketWidth: %v", err)
	}
	visibleBefore := m.Smoothed()
	for _, p := range visibleBefore {
		if p.T > samples[119].T {
			t.Fatalf("visible smoothed point at t=%v built from staged raw data", p.T)
		}
	}

	m.Flush()

	fresh := newTestLog(t, 0.006, 1e9, PolicyImmediate)
	fresh.PushBatch(samples)
	if diff := cmp.Diff(fresh.Smoothed(), m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("smoothed after recompute+flush differs (-fresh +got):\n%s", diff)
	}
}

func TestMotionLog_RetentionBound(t *testing.T) {
	m := newTestLog(t, 100, 1000, PolicyImmediate)

	for ts := 0.0; ts <= 2500; ts += 50 {
		m.Push(RawSample{T: ts, DX: 1, DY: -1})

		for _, s := range []struct {
			name string
			pts  []DerivedPoint
		}{{"raw", m.Raw()}, {"smoothed", m.Smoothed()}} {
			if len(s.pts) < 2 {
				continue
			}
			if span := s.pts[len(s.pts)-1].T - s.pts[0].T; span > 1000 {
				t.Fatalf("%s span %v exceeds horizon after push at t=%v", s.name, span, ts)
			}
		}
	}

	raw := m.Raw()
	newest := raw[len(raw)-1].T
	for _, p := range raw {
		if p.T < newest-1000 {
			t.Fatalf("raw entry at t=%v older than newest-horizon (%v)", p.T, newest-1000)
		}
	}
	if raw[0].T != 1500 {
		t.Fatalf("expected oldest retained raw t=1500, got %v", raw[0].T)
	}
	if m.Snapshot().Evicted == 0 {
		t.Fatalf("expected evictions to be counted")
	}
}

func TestMotionLog_RetentionBoundStaged(t *testing.T) {
	m := newTestLog(t, 0.5, 1, PolicyStaged)
	for _, ts := range []float64{0, 0.5, 1} {
		m.Push(RawSample{T: ts, DX: 1})
	}
	m.Flush()

	// Ten unflushed pushes run the visible part out before the staged part is trimmed.
	for i := 1; i <= 10; i++ {
		m.Push(RawSample{T: 1 + float64(i)*0.5, DX: 1})
	}
	if n := m.raw.visible.Len(); n != 0 {
		t.Fatalf("expected visible raw fully evicted, got %d points", n)
	}
	staged := m.raw.stagedSlice()
	if len(staged) != 3 {
		t.Fatalf("expected 3 staged raw points, got %d", len(staged))
	}
	if span := staged[len(staged)-1].T - staged[0].T; span > 1 {
		t.Fatalf("staged span %v exceeds horizon", span)
	}

	m.Flush()
	raw := m.Raw()
	if raw[0].T != 5 || raw[len(raw)-1].T != 6 {
		t.Fatalf("expected visible raw to cover [5, 6], got [%v, %v]", raw[0].T, raw[len(raw)-1].T)
	}
	if sm := m.Smoothed(); len(sm) > 1 && sm[len(sm)-1].T-sm[0].T > 1 {
		t.Fatalf("smoothed span %v exceeds horizon", sm[len(sm)-1].T-sm[0].T)
	}
}

func TestMotionLog_ZeroHorizonKeepsNewestTimestamp(t *testing.T) {
	m := newTestLog(t, 1, 1000, PolicyImmediate)
	if err := m.SetRetention(0); err != nil {
		t.Fatalf("SetRetention(0): %v", err)
	}
	for i := 0; i < 10; i++ {
		m.Push(RawSample{T: float64(i) * 0.25, DX: 1})
		if n := len(m.Raw()); n != 1 {
			t.Fatalf("push %d: expected 1 retained raw point, got %d", i, n)
		}
	}
	// Samples sharing the newest timestamp are all kept.
	m.Push(RawSample{T: 2.25, DX: 1})
	raw := m.Raw()
	if len(raw) != 2 || raw[0].T != 2.25 || raw[1].T != 2.25 {
		t.Fatalf("expected two points at t=2.25, got %+v", raw)
	}
	if raw[1].X != 11 {
		t.Fatalf("expected cumulative x=11, got %v", raw[1].X)
	}
}

func TestMotionLog_RetentionKeepsContinuity(t *testing.T) {
	m := newTestLog(t, 0.5, 2, PolicyImmediate)
	for i := 0; i < 40; i++ {
		m.Push(RawSample{T: float64(i) * 0.25, DX: 1})
	}
	raw := m.Raw()
	// Position keeps counting from stream start even after eviction.
	if last := raw[len(raw)-1]; last.X != 40 {
		t.Fatalf("expected cumulative x=40, got %v", last.X)
	}
}

func TestMotionLog_RateWindow(t *testing.T) {
	m := newTestLog(t, 0.1, 100, PolicyStaged)
	for i := 0; i <= 12; i++ {
		m.Push(RawSample{T: float64(i) * 0.25, DX: 1})
	}
	// Newest t=3.0; the window keeps t in [2.0, 3.0].
	if got := m.Rate(); got != 5 {
		t.Fatalf("expected rate=5, got %d", got)
	}

	// A long gap empties the window down to the newest sample.
	m.Push(RawSample{T: 10, DX: 1})
	if got := m.Rate(); got != 1 {
		t.Fatalf("expected rate=1 after gap, got %d", got)
	}
}

func TestMotionLog_StagedMatchesImmediateAfterFlush(t *testing.T) {
	samples := jitterSamples(250)

	imm := newTestLog(t, 0.003, 1e9, PolicyImmediate)
	stg := newTestLog(t, 0.003, 1e9, PolicyStaged)

	imm.PushBatch(samples)
	stg.PushBatch(samples)

	if n := len(stg.Raw()); n != 0 {
		t.Fatalf("staged policy exposed %d raw points before flush", n)
	}
	if n := len(stg.Smoothed()); n != 0 {
		t.Fatalf("staged policy exposed %d smoothed points before flush", n)
	}

	rawMoved, smMoved := stg.Flush()
	if rawMoved != len(samples) {
		t.Fatalf("expected %d raw points flushed, got %d", len(samples), rawMoved)
	}
	if smMoved != len(imm.Smoothed()) {
		t.Fatalf("expected %d smoothed points flushed, got %d", len(imm.Smoothed()), smMoved)
	}

	if diff := cmp.Diff(imm.Raw(), stg.Raw(), equateNaNs); diff != "" {
		t.Fatalf("raw mismatch (-immediate +staged):\n%s", diff)
	}
	if diff := cmp.Diff(imm.Smoothed(), stg.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("smoothed mismatch (-immediate +staged):\n%s", diff)
	}
}

func TestMotionLog_StagedDerivesAgainstStagedLast(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyStaged)
	m.Push(RawSample{T: 0, DX: 2})
	m.Flush()
	m.Push(RawSample{T: 1, DX: 3})
	m.Push(RawSample{T: 3, DX: 4})
	m.Flush()

	raw := m.Raw()
	if raw[2].X != 9 || raw[2].DT != 2 {
		t.Fatalf("expected x=9 dt=2 for third point, got x=%v dt=%v", raw[2].X, raw[2].DT)
	}
}

func TestMotionLog_Clear(t *testing.T) {
	m := newTestLog(t, 0.002, 100, PolicyStaged)
	m.PushBatch(jitterSamples(100))
	m.Flush()
	m.PushBatch([]RawSample{{T: 5, DX: 1}, {T: 6, DX: 1}})

	m.Clear()

	snap := m.Snapshot()
	if len(snap.Raw) != 0 || len(snap.Smoothed) != 0 || snap.Rate != 0 {
		t.Fatalf("expected empty series after clear, got raw=%d smoothed=%d rate=%d", len(snap.Raw), len(snap.Smoothed), snap.Rate)
	}
	if snap.StagedRaw != 0 || snap.StagedSmoothed != 0 || snap.PendingBucket != 0 || snap.LastFrameTime != 0 {
		t.Fatalf("expected reset staging/accumulator, got %+v", snap)
	}

	m.Push(RawSample{T: 42, DX: 7})
	m.Flush()
	raw := m.Raw()
	if raw[0].X != 7 || raw[0].DT != 0 || !math.IsNaN(raw[0].VX) {
		t.Fatalf("expected fresh first point after clear, got %+v", raw[0])
	}
}

func TestMotionLog_SetRetentionDoesNotRecompute(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyImmediate)
	for i := 0; i < 30; i++ {
		m.Push(RawSample{T: float64(i), DX: 1})
	}
	before := m.Smoothed()

	if err := m.SetRetention(5); err != nil {
		t.Fatalf("SetRetention: %v", err)
	}
	if diff := cmp.Diff(before, m.Smoothed(), equateNaNs); diff != "" {
		t.Fatalf("smoothed changed on SetRetention (-before +after):\n%s", diff)
	}
	if len(m.Raw()) != 30 {
		t.Fatalf("expected eviction to wait for the next push, got %d raw points", len(m.Raw()))
	}

	m.Push(RawSample{T: 30, DX: 1})
	raw := m.Raw()
	if raw[0].T != 25 {
		t.Fatalf("expected oldest raw t=25 after next push, got %v", raw[0].T)
	}
}

func TestMotionLog_InvalidReconfigureLeavesStateUnchanged(t *testing.T) {
	m := newTestLog(t, 0.01, 100, PolicyImmediate)
	m.PushBatch(jitterSamples(50))
	before := m.Snapshot()

	for _, w := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := m.SetBucketWidth(w); err == nil {
			t.Fatalf("expected error for bucket width %v", w)
		}
	}
	if err := m.SetSmoothFPS(0); err == nil {
		t.Fatalf("expected error for fps 0")
	}
	if err := m.SetRetention(-1); err == nil {
		t.Fatalf("expected error for negative horizon")
	}
	if err := m.SetPolicy("bogus"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}

	if diff := cmp.Diff(before, m.Snapshot(), equateNaNs); diff != "" {
		t.Fatalf("state changed after rejected reconfiguration (-before +after):\n%s", diff)
	}
}

func TestMotionLog_SetSmoothFPS(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyImmediate)
	if err := m.SetSmoothFPS(144); err != nil {
		t.Fatalf("SetSmoothFPS: %v", err)
	}
	if got, want := m.Config().BucketWidth, 1.0/144; got != want {
		t.Fatalf("bucket width=%v, want %v", got, want)
	}
}

func TestMotionLog_SetPolicyImmediateFlushesStaged(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyStaged)
	m.PushBatch([]RawSample{{T: 0, DX: 1}, {T: 1, DX: 1}})

	if err := m.SetPolicy(PolicyImmediate); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if got := len(m.Raw()); got != 2 {
		t.Fatalf("expected staged points flushed on policy switch, got %d visible", got)
	}
	m.Push(RawSample{T: 2, DX: 1})
	if got := len(m.Raw()); got != 3 {
		t.Fatalf("expected immediate append, got %d visible", got)
	}
}

func TestMotionLog_OutOfOrderIsCountedNotRejected(t *testing.T) {
	m := newTestLog(t, 0.5, 2, PolicyImmediate)
	m.Push(RawSample{T: 1, DX: 1})
	m.Push(RawSample{T: 3, DX: 1})
	m.Push(RawSample{T: 0.5, DX: 1}) // goes backwards
	m.Push(RawSample{T: 0.5, DX: 1}) // duplicate of an out-of-order time
	m.Push(RawSample{T: 4, DX: 1})

	if got := m.OutOfOrder(); got != 1 {
		t.Fatalf("expected 1 out-of-order push, got %d", got)
	}
	raw := m.Raw()
	if len(raw) == 0 {
		t.Fatalf("expected raw points to be retained")
	}
	// Position still sums every delta that is retained.
	if last := raw[len(raw)-1]; last.X != 5 {
		t.Fatalf("expected cumulative x=5, got %v", last.X)
	}
}

func TestMotionLog_AppendedSinceCursor(t *testing.T) {
	m := newTestLog(t, 1, 100, PolicyStaged)
	c := m.cursor()

	m.PushBatch([]RawSample{{T: 0, DX: 1}, {T: 0.5, DX: 1}, {T: 2, DX: 1}})
	raw, sm, ok := m.appendedSince(c)
	if !ok || len(raw) != 0 || len(sm) != 0 {
		t.Fatalf("expected nothing visible before flush, got ok=%v raw=%d smoothed=%d", ok, len(raw), len(sm))
	}

	m.Flush()
	raw, sm, ok = m.appendedSince(c)
	if !ok || len(raw) != 3 || len(sm) != 1 {
		t.Fatalf("expected 3 raw and 1 smoothed after flush, got ok=%v raw=%d smoothed=%d", ok, len(raw), len(sm))
	}

	c = m.cursor()
	if err := m.SetBucketWidth(0.25); err != nil {
		t.Fatalf("SetBucketWidth: %v", err)
	}
	if _, _, ok := m.appendedSince(c); ok {
		t.Fatalf("expected cursor to be invalidated by recompute")
	}
}

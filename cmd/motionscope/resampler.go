package main

import "math"

// ============================================================================
// Bucketed Resampler
// ============================================================================
//
// Raw samples are accumulated into the bucket currently being filled. A bucket
// is closed by the first sample that lands more than one bucket width past the
// last closed boundary. The closed bucket is stamped with the time of its last
// member sample, and the boundary advances on the bucket grid
// (ceil(tClose/width)*width), so boundaries are multiples of the width
// regardless of sample jitter.
//
// The trailing partial bucket is never emitted on its own; it only shows up
// once a later sample closes it (or a recompute replays it and a later sample
// closes it).
//
// ============================================================================

// bucketState is the resampler accumulator. It is owned by the MotionLog and
// passed by pointer into resampleStep; recompute is reset + replay.
type bucketState struct {
	pending       []RawSample
	lastFrameTime float64
}

// reset empties the accumulator and rewinds the boundary to 0.
func (b *bucketState) reset() {
	b.pending = b.pending[:0]
	b.lastFrameTime = 0
}

// sum aggregates the pending samples into one (tClose, dx, dy) record.
// It must only be called with at least one pending sample.
func (b *bucketState) sum() RawSample {
	var dx, dy float64
	for _, s := range b.pending {
		dx += s.DX
		dy += s.DY
	}
	return RawSample{
		T:  b.pending[len(b.pending)-1].T,
		DX: dx,
		DY: dy,
	}
}

// resampleStep feeds d into the accumulator.
//
// If d closes the current bucket, the aggregated bucket is returned with
// closed = true. d itself always starts (or joins) the bucket being filled.
func resampleStep(st *bucketState, width float64, d RawSample) (bucket RawSample, closed bool) {
	if len(st.pending) > 0 && d.T-st.lastFrameTime > width {
		bucket = st.sum()
		st.lastFrameTime = math.Ceil(bucket.T/width) * width
		st.pending = st.pending[:0]
		closed = true
	}
	st.pending = append(st.pending, d)
	return bucket, closed
}

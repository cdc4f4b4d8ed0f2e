package main

import "testing"

func TestResampleStep_ClosesOnBoundaryCrossing(t *testing.T) {
	var st bucketState
	const w = 500.0

	if _, closed := resampleStep(&st, w, RawSample{T: 0, DX: 5}); closed {
		t.Fatalf("first sample must not close a bucket")
	}
	// 500 - 0 is not > 500: joins the open bucket.
	if _, closed := resampleStep(&st, w, RawSample{T: 500, DX: 3}); closed {
		t.Fatalf("sample at exactly one width must not close the bucket")
	}

	b, closed := resampleStep(&st, w, RawSample{T: 1200, DX: -2})
	if !closed {
		t.Fatalf("expected sample at t=1200 to close the bucket")
	}
	if b.T != 500 || b.DX != 8 || b.DY != 0 {
		t.Fatalf("expected bucket {t:500 dx:8 dy:0}, got %+v", b)
	}
	if st.lastFrameTime != 500 {
		t.Fatalf("expected lastFrameTime=500, got %v", st.lastFrameTime)
	}
	if len(st.pending) != 1 || st.pending[0].T != 1200 {
		t.Fatalf("expected closing sample to start the next bucket, got %+v", st.pending)
	}
}

func TestResampleStep_BoundaryQuantizedToGrid(t *testing.T) {
	var st bucketState
	const w = 10.0

	resampleStep(&st, w, RawSample{T: 3, DX: 1})
	resampleStep(&st, w, RawSample{T: 7, DX: 1})
	b, closed := resampleStep(&st, w, RawSample{T: 12.5, DX: 1})
	if !closed {
		t.Fatalf("expected close at t=12.5")
	}
	if b.T != 7 {
		t.Fatalf("expected close time of last member (7), got %v", b.T)
	}
	if st.lastFrameTime != 10 {
		t.Fatalf("expected boundary ceil(7/10)*10=10, got %v", st.lastFrameTime)
	}

	// 19 - 10 is not > 10.
	if _, closed := resampleStep(&st, w, RawSample{T: 19, DX: 1}); closed {
		t.Fatalf("unexpected close at t=19")
	}
	b, closed = resampleStep(&st, w, RawSample{T: 20.5, DX: 1})
	if !closed {
		t.Fatalf("expected close at t=20.5")
	}
	if b.T != 19 || b.DX != 2 {
		t.Fatalf("expected bucket {t:19 dx:2}, got %+v", b)
	}
	if st.lastFrameTime != 20 {
		t.Fatalf("expected boundary 20, got %v", st.lastFrameTime)
	}
}

func TestResampleStep_TrailingPartialBucketNotEmitted(t *testing.T) {
	var st bucketState
	for i := 0; i < 5; i++ {
		if _, closed := resampleStep(&st, 1.0, RawSample{T: float64(i) * 0.1, DX: 1}); closed {
			t.Fatalf("sample %d closed a bucket inside the first width", i)
		}
	}
	if len(st.pending) != 5 {
		t.Fatalf("expected 5 pending samples, got %d", len(st.pending))
	}
}

func TestBucketState_Reset(t *testing.T) {
	var st bucketState
	resampleStep(&st, 1, RawSample{T: 0, DX: 1})
	resampleStep(&st, 1, RawSample{T: 5, DX: 1})

	st.reset()
	if len(st.pending) != 0 || st.lastFrameTime != 0 {
		t.Fatalf("expected empty accumulator after reset, got pending=%d lastFrameTime=%v", len(st.pending), st.lastFrameTime)
	}
}

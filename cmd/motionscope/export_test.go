package main

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExport_RoundTripReproducesLiveState(t *testing.T) {
	for _, policy := range []IngestPolicy{PolicyImmediate, PolicyStaged} {
		t.Run(string(policy), func(t *testing.T) {
			live := newTestLog(t, 0.004, 1e9, policy)
			samples := jitterSamples(300)
			live.PushBatch(samples[:200])
			live.Flush()
			live.PushBatch(samples[200:])

			var buf bytes.Buffer
			meta := ExportMeta{
				Session:      "s-1",
				ExportedAt:   time.Unix(1700000000, 0),
				BucketWidth:  live.Config().BucketWidth,
				RetentionSec: live.Config().Horizon,
			}
			if err := EncodeExport(&buf, live.RawAll(), meta); err != nil {
				t.Fatalf("EncodeExport: %v", err)
			}

			got, gotMeta, err := DecodeExport(&buf)
			if err != nil {
				t.Fatalf("DecodeExport: %v", err)
			}
			if diff := cmp.Diff(samples, got); diff != "" {
				t.Fatalf("decoded samples differ (-want +got):\n%s", diff)
			}
			if gotMeta.Session != "s-1" || gotMeta.BucketWidth != meta.BucketWidth {
				t.Fatalf("unexpected meta: %+v", gotMeta)
			}

			imported := newTestLog(t, 0.004, 1e9, policy)
			imported.Push(RawSample{T: 99, DX: 99}) // stale state that import must discard
			ImportInto(imported, got)

			live.Flush()
			imported.Flush()
			if diff := cmp.Diff(live.Raw(), imported.Raw(), equateNaNs); diff != "" {
				t.Fatalf("raw mismatch after import (-live +imported):\n%s", diff)
			}
			if diff := cmp.Diff(live.Smoothed(), imported.Smoothed(), equateNaNs); diff != "" {
				t.Fatalf("smoothed mismatch after import (-live +imported):\n%s", diff)
			}
		})
	}
}

func TestExport_ImportAfterEvictionRestartsPositions(t *testing.T) {
	live := newTestLog(t, 0.5, 2, PolicyImmediate)
	for i := 0; i < 40; i++ {
		live.Push(RawSample{T: float64(i) * 0.25, DX: 1, DY: -1})
	}
	if live.Snapshot().Evicted == 0 {
		t.Fatalf("expected evictions before export")
	}

	b, err := MarshalExport(live.RawAll(), ExportMeta{Session: "s-2"})
	if err != nil {
		t.Fatalf("MarshalExport: %v", err)
	}
	got, _, err := UnmarshalExport(b)
	if err != nil {
		t.Fatalf("UnmarshalExport: %v", err)
	}
	imported := newTestLog(t, 0.5, 2, PolicyImmediate)
	ImportInto(imported, got)

	want, have := live.Raw(), imported.Raw()
	if len(want) != len(have) {
		t.Fatalf("expected %d raw points, got %d", len(want), len(have))
	}
	for i := range want {
		if want[i].T != have[i].T || want[i].DX != have[i].DX || want[i].DY != have[i].DY {
			t.Fatalf("raw sample %d differs: live %+v imported %+v", i, want[i], have[i])
		}
	}
	if want[0].X == 1 {
		t.Fatalf("expected live x to carry the evicted prefix, got %v", want[0].X)
	}
	first := have[0]
	if first.X != 1 || first.Y != -1 || first.DT != 0 || !math.IsNaN(first.VX) {
		t.Fatalf("expected imported series to restart at the first retained delta, got %+v", first)
	}
	if last := have[len(have)-1]; last.X != float64(len(have)) {
		t.Fatalf("expected imported x=%d, got %v", len(have), last.X)
	}
}

func TestExport_NaNEncodedAsNull(t *testing.T) {
	pts := []DerivedPoint{derivePoint(nil, 0, 1, 2)}
	b, err := MarshalExport(pts, ExportMeta{})
	if err != nil {
		t.Fatalf("MarshalExport: %v", err)
	}
	if !strings.Contains(string(b), `"vx":null`) || !strings.Contains(string(b), `"vy":null`) {
		t.Fatalf("expected NaN velocities encoded as null, got %s", b)
	}
}

func TestExport_ImportIgnoresPersistedDerivedValues(t *testing.T) {
	doc := `{"version":1,"exported_at":"2024-01-01T00:00:00Z","bucket_width":1,"retention_sec":10,
"points":[{"t":0,"x":100,"y":100,"dt":5,"dx":1,"dy":2,"vx":null,"vy":null},
{"t":0.5,"x":-7,"y":0,"dt":0,"dx":3,"dy":-1,"vx":1,"vy":1}]}`

	samples, _, err := UnmarshalExport([]byte(doc))
	if err != nil {
		t.Fatalf("UnmarshalExport: %v", err)
	}

	m := newTestLog(t, 1, 10, PolicyImmediate)
	ImportInto(m, samples)
	raw := m.Raw()
	if len(raw) != 2 {
		t.Fatalf("expected 2 points, got %d", len(raw))
	}
	if raw[1].X != 4 || raw[1].Y != 1 || raw[1].DT != 0.5 || raw[1].VX != 6 {
		t.Fatalf("expected re-derived point {x:4 y:1 dt:0.5 vx:6}, got %+v", raw[1])
	}
	if !math.IsNaN(raw[0].VX) {
		t.Fatalf("expected first point NaN velocity, got %v", raw[0].VX)
	}
}

func TestExport_DecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"garbage", `not json`},
		{"unknown field", `{"version":1,"points":[],"extra":true}`},
		{"bad number", `{"version":1,"points":[{"t":"x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := UnmarshalExport([]byte(tc.doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	_, _, err := UnmarshalExport([]byte(`{"version":2,"points":[]}`))
	if !errors.Is(err, errExportVersion) {
		t.Fatalf("expected errExportVersion, got %v", err)
	}
}

package main

import (
	"math"
	"testing"
)

func TestDerivePoint_FirstPointHasZeroDTAndNaNVelocity(t *testing.T) {
	p := derivePoint(nil, 3.5, 4, -2)

	if p.X != 4 || p.Y != -2 {
		t.Fatalf("expected first point position (4,-2), got (%v,%v)", p.X, p.Y)
	}
	if p.DT != 0 {
		t.Fatalf("expected first point dt=0, got %v", p.DT)
	}
	if !math.IsNaN(p.VX) || !math.IsNaN(p.VY) {
		t.Fatalf("expected NaN velocities for first point, got vx=%v vy=%v", p.VX, p.VY)
	}
}

func TestDerivePoint_ChainsOntoPrevious(t *testing.T) {
	prev := derivePoint(nil, 1.0, 5, 1)
	p := derivePoint(&prev, 1.5, 3, -4)

	if p.X != 8 || p.Y != -3 {
		t.Fatalf("expected position (8,-3), got (%v,%v)", p.X, p.Y)
	}
	if p.DT != 0.5 {
		t.Fatalf("expected dt=0.5, got %v", p.DT)
	}
	if p.VX != 6 || p.VY != -8 {
		t.Fatalf("expected velocity (6,-8), got (%v,%v)", p.VX, p.VY)
	}
}

func TestDerivePoint_DuplicateTimestampNeverInfinite(t *testing.T) {
	prev := derivePoint(nil, 2.0, 1, 1)
	p := derivePoint(&prev, 2.0, 7, 0)

	if p.DT != 0 {
		t.Fatalf("expected dt=0, got %v", p.DT)
	}
	if !math.IsNaN(p.VX) || !math.IsNaN(p.VY) {
		t.Fatalf("expected NaN velocities for dt=0, got vx=%v vy=%v", p.VX, p.VY)
	}
	if p.X != 8 {
		t.Fatalf("expected x=8, got %v", p.X)
	}
}

func TestDerivePoint_NonFiniteInputPassesThrough(t *testing.T) {
	prev := derivePoint(nil, 0, 1, 1)
	p := derivePoint(&prev, 1, math.Inf(1), math.NaN())

	if !math.IsInf(p.X, 1) {
		t.Fatalf("expected +Inf x, got %v", p.X)
	}
	if !math.IsNaN(p.Y) {
		t.Fatalf("expected NaN y, got %v", p.Y)
	}
}

// checkSeriesInvariants asserts continuity and the velocity sentinel on a
// series that starts at its first derived point.
func checkSeriesInvariants(t *testing.T, name string, pts []DerivedPoint) {
	t.Helper()
	for i, p := range pts {
		if i == 0 {
			if p.X != p.DX || p.Y != p.DY {
				t.Fatalf("%s[0]: expected x==dx and y==dy, got x=%v dx=%v y=%v dy=%v", name, p.X, p.DX, p.Y, p.DY)
			}
		} else {
			prev := pts[i-1]
			if p.X != prev.X+p.DX || p.Y != prev.Y+p.DY {
				t.Fatalf("%s[%d]: continuity broken: x=%v prev.x=%v dx=%v", name, i, p.X, prev.X, p.DX)
			}
			if p.DT != p.T-prev.T {
				t.Fatalf("%s[%d]: dt=%v, want %v", name, i, p.DT, p.T-prev.T)
			}
		}
		if p.DT == 0 {
			if !math.IsNaN(p.VX) || !math.IsNaN(p.VY) {
				t.Fatalf("%s[%d]: dt=0 but velocities are (%v,%v)", name, i, p.VX, p.VY)
			}
			continue
		}
		if p.VX != p.DX/p.DT || p.VY != p.DY/p.DT {
			t.Fatalf("%s[%d]: velocity (%v,%v), want (%v,%v)", name, i, p.VX, p.VY, p.DX/p.DT, p.DY/p.DT)
		}
	}
}

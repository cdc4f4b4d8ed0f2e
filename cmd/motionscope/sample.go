package main

import "math"

// RawSample is one relative pointer-motion report, with T in engine seconds.
type RawSample struct {
	T  float64
	DX float64
	DY float64
}

// DerivedPoint is an absolute-position/velocity record derived from a RawSample
// (raw series) or from a closed bucket (smoothed series).
//
// VX/VY are NaN whenever DT == 0; they are never infinite from a zero division.
type DerivedPoint struct {
	T  float64
	X  float64
	Y  float64
	DT float64
	DX float64
	DY float64
	VX float64
	VY float64
}

// Sample returns the relative part of the point, which is what replay and
// import feed back through the engine.
func (p DerivedPoint) Sample() RawSample {
	return RawSample{T: p.T, DX: p.DX, DY: p.DY}
}

// derivePoint chains a relative delta onto prev (nil for the first point of a series).
//
// The first point of a series has DT = 0, so its velocities are NaN. The same
// convention holds for raw and smoothed series.
func derivePoint(prev *DerivedPoint, t, dx, dy float64) DerivedPoint {
	p := DerivedPoint{
		T:  t,
		X:  dx,
		Y:  dy,
		DX: dx,
		DY: dy,
	}
	if prev != nil {
		p.DT = t - prev.T
		p.X = prev.X + dx
		p.Y = prev.Y + dy
	}
	p.VX = velocity(dx, p.DT)
	p.VY = velocity(dy, p.DT)
	return p
}

func velocity(d, dt float64) float64 {
	if dt == 0 {
		return math.NaN()
	}
	return d / dt
}

package main

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// SeriesStats summarizes one derived series. Points with undefined (NaN)
// velocity are excluded from the speed figures and counted separately.
type SeriesStats struct {
	Count         int       `json:"count"`
	SpanSec       jsonFloat `json:"span_sec"`
	Distance      jsonFloat `json:"distance"`
	NetX          jsonFloat `json:"net_x"`
	NetY          jsonFloat `json:"net_y"`
	MeanSpeed     jsonFloat `json:"mean_speed"`
	StdSpeed      jsonFloat `json:"std_speed"`
	P95Speed      jsonFloat `json:"p95_speed"`
	MaxSpeed      jsonFloat `json:"max_speed"`
	MeanVX        jsonFloat `json:"mean_vx"`
	MeanVY        jsonFloat `json:"mean_vy"`
	NaNVelocities int       `json:"nan_velocities"`
}

// StatsReport is the /stats and IPC "stats" payload.
type StatsReport struct {
	Session  string      `json:"session"`
	Rate     int         `json:"rate"`
	Raw      SeriesStats `json:"raw"`
	Smoothed SeriesStats `json:"smoothed"`
}

func summarizeSeries(pts []DerivedPoint) SeriesStats {
	nan := jsonFloat(math.NaN())
	st := SeriesStats{
		Count:     len(pts),
		MeanSpeed: nan,
		StdSpeed:  nan,
		P95Speed:  nan,
		MaxSpeed:  nan,
		MeanVX:    nan,
		MeanVY:    nan,
	}
	if len(pts) == 0 {
		return st
	}

	first, last := pts[0], pts[len(pts)-1]
	st.SpanSec = jsonFloat(last.T - first.T)
	st.NetX = jsonFloat(last.X - first.X + first.DX)
	st.NetY = jsonFloat(last.Y - first.Y + first.DY)

	var dist float64
	speeds := make([]float64, 0, len(pts))
	vxs := make([]float64, 0, len(pts))
	vys := make([]float64, 0, len(pts))
	for _, p := range pts {
		dist += math.Hypot(p.DX, p.DY)
		if math.IsNaN(p.VX) || math.IsNaN(p.VY) || math.IsInf(p.VX, 0) || math.IsInf(p.VY, 0) {
			st.NaNVelocities++
			continue
		}
		speeds = append(speeds, math.Hypot(p.VX, p.VY))
		vxs = append(vxs, p.VX)
		vys = append(vys, p.VY)
	}
	st.Distance = jsonFloat(dist)

	if len(speeds) == 0 {
		return st
	}

	mean, std := stat.MeanStdDev(speeds, nil)
	st.MeanSpeed = jsonFloat(mean)
	st.StdSpeed = jsonFloat(std)
	st.MeanVX = jsonFloat(stat.Mean(vxs, nil))
	st.MeanVY = jsonFloat(stat.Mean(vys, nil))

	slices.Sort(speeds)
	st.P95Speed = jsonFloat(stat.Quantile(0.95, stat.Empirical, speeds, nil))
	st.MaxSpeed = jsonFloat(speeds[len(speeds)-1])
	return st
}

// buildStatsReport summarizes a snapshot.
func buildStatsReport(session string, snap LogSnapshot) StatsReport {
	return StatsReport{
		Session:  session,
		Rate:     snap.Rate,
		Raw:      summarizeSeries(snap.Raw),
		Smoothed: summarizeSeries(snap.Smoothed),
	}
}

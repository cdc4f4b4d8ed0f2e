package main

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix is where rendered pages load the echarts JS from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// chartFields are the plottable quantities. "xy" plots the cursor path
// (Y against X); the rest plot the field against time.
var chartFields = map[string]func(DerivedPoint) float64{
	"x":  func(p DerivedPoint) float64 { return p.X },
	"y":  func(p DerivedPoint) float64 { return p.Y },
	"dx": func(p DerivedPoint) float64 { return p.DX },
	"dy": func(p DerivedPoint) float64 { return p.DY },
	"vx": func(p DerivedPoint) float64 { return p.VX },
	"vy": func(p DerivedPoint) float64 { return p.VY },
	"dt": func(p DerivedPoint) float64 { return p.DT },
	"xy": func(p DerivedPoint) float64 { return p.Y },
}

// chartRequest selects what /chart renders.
type chartRequest struct {
	Field  string // x|y|xy|dx|dy|vx|vy|dt
	Series string // raw|smoothed|both
}

func parseChartRequest(field, which string) (chartRequest, error) {
	if field == "" {
		field = "x"
	}
	if which == "" {
		which = "both"
	}
	if _, ok := chartFields[field]; !ok {
		return chartRequest{}, fmt.Errorf("invalid field %q (x|y|xy|dx|dy|vx|vy|dt)", field)
	}
	switch which {
	case "raw", "smoothed", "both":
	default:
		return chartRequest{}, fmt.Errorf("invalid series %q (raw|smoothed|both)", which)
	}
	return chartRequest{Field: field, Series: which}, nil
}

// lineData converts points to [x, y] pairs. Points whose value is NaN/Inf
// (e.g. the first velocity) are skipped; echarts cannot plot them.
func lineData(pts []DerivedPoint, field string) []opts.LineData {
	val := chartFields[field]
	out := make([]opts.LineData, 0, len(pts))
	for _, p := range pts {
		x := p.T
		if field == "xy" {
			x = p.X
		}
		y := val(p)
		if !finite(x) || !finite(y) {
			continue
		}
		out = append(out, opts.LineData{Value: []interface{}{x, y}})
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// renderSeriesChart writes an HTML line chart of the snapshot.
func renderSeriesChart(w io.Writer, snap SeriesSnapshot, req chartRequest) error {
	xName := "t (s)"
	if req.Field == "xy" {
		xName = "x"
	}
	yName := req.Field
	if req.Field == "xy" {
		yName = "y"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "motionscope", Theme: "dark", Width: "1200px", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s (%s)", req.Field, req.Series),
			Subtitle: fmt.Sprintf("session=%s raw=%d smoothed=%d fps=%.1f rate=%d/s",
				snap.View.Session, len(snap.Log.Raw), len(snap.Log.Smoothed), snap.View.SmoothFPS, snap.Log.Rate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: xName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)

	if req.Series == "raw" || req.Series == "both" {
		line.AddSeries("raw", lineData(snap.Log.Raw, req.Field),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	if req.Series == "smoothed" || req.Series == "both" {
		line.AddSeries("smoothed", lineData(snap.Log.Smoothed, req.Field),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	return line.Render(w)
}

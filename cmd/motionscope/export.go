package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// ============================================================================
// Raw series export/import
// ============================================================================
//
// The export document carries the logical raw series (visible then staged) in
// engine units. Import replays each point's {t, dx, dy} through Push in order
// and discards the persisted derived values, so an import into a cleared engine
// with the same configuration rebuilds the same raw and smoothed series as live
// ingestion did, provided nothing was evicted before the export.
//
// After eviction the document starts mid-stream: the replay restarts X/Y at the
// first retained delta, its first velocity is NaN, and the resampler buckets
// from the first retained sample. The raw {t, dx, dy} still round-trip exactly.
//
// JSON has no NaN; non-finite values are written as null and read back as NaN.
//
// ============================================================================

const exportVersion = 1

// jsonFloat is a float64 that encodes non-finite values as null.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = jsonFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", b, err)
	}
	*f = jsonFloat(v)
	return nil
}

// pointRecord is the wire form of a DerivedPoint.
type pointRecord struct {
	T  jsonFloat `json:"t"`
	X  jsonFloat `json:"x"`
	Y  jsonFloat `json:"y"`
	DT jsonFloat `json:"dt"`
	DX jsonFloat `json:"dx"`
	DY jsonFloat `json:"dy"`
	VX jsonFloat `json:"vx"`
	VY jsonFloat `json:"vy"`
}

func toRecord(p DerivedPoint) pointRecord {
	return pointRecord{
		T:  jsonFloat(p.T),
		X:  jsonFloat(p.X),
		Y:  jsonFloat(p.Y),
		DT: jsonFloat(p.DT),
		DX: jsonFloat(p.DX),
		DY: jsonFloat(p.DY),
		VX: jsonFloat(p.VX),
		VY: jsonFloat(p.VY),
	}
}

func toRecords(pts []DerivedPoint) []pointRecord {
	out := make([]pointRecord, len(pts))
	for i, p := range pts {
		out[i] = toRecord(p)
	}
	return out
}

// ExportDocument is the raw-series export file.
type ExportDocument struct {
	Version      int           `json:"version"`
	Session      string        `json:"session,omitempty"`
	ExportedAt   time.Time     `json:"exported_at"`
	BucketWidth  float64       `json:"bucket_width"`
	RetentionSec float64       `json:"retention_sec"`
	Points       []pointRecord `json:"points"`
}

// ExportMeta is the non-point part of an export document.
type ExportMeta struct {
	Session      string
	ExportedAt   time.Time
	BucketWidth  float64
	RetentionSec float64
}

// EncodeExport writes the raw series points as an export document.
func EncodeExport(w io.Writer, points []DerivedPoint, meta ExportMeta) error {
	doc := ExportDocument{
		Version:      exportVersion,
		Session:      meta.Session,
		ExportedAt:   meta.ExportedAt.UTC(),
		BucketWidth:  meta.BucketWidth,
		RetentionSec: meta.RetentionSec,
		Points:       toRecords(points),
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// MarshalExport is EncodeExport into a byte slice.
func MarshalExport(points []DerivedPoint, meta ExportMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeExport(&buf, points, meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errExportVersion = errors.New("unsupported export version")

// DecodeExport reads an export document and returns the replayable samples
// in document order.
func DecodeExport(r io.Reader) ([]RawSample, ExportMeta, error) {
	var doc ExportDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, ExportMeta{}, fmt.Errorf("decode export: %w", err)
	}
	if doc.Version != exportVersion {
		return nil, ExportMeta{}, fmt.Errorf("%w: %d", errExportVersion, doc.Version)
	}

	samples := make([]RawSample, len(doc.Points))
	for i, p := range doc.Points {
		samples[i] = RawSample{T: float64(p.T), DX: float64(p.DX), DY: float64(p.DY)}
	}
	meta := ExportMeta{
		Session:      doc.Session,
		ExportedAt:   doc.ExportedAt,
		BucketWidth:  doc.BucketWidth,
		RetentionSec: doc.RetentionSec,
	}
	return samples, meta, nil
}

// UnmarshalExport is DecodeExport over a byte slice.
func UnmarshalExport(b []byte) ([]RawSample, ExportMeta, error) {
	return DecodeExport(bytes.NewReader(b))
}

// ImportInto clears m and replays samples through Push. Positions are rebuilt
// from the first sample, so an export taken after eviction does not carry the
// original cumulative offset.
func ImportInto(m *MotionLog, samples []RawSample) {
	m.Clear()
	m.PushBatch(samples)
}

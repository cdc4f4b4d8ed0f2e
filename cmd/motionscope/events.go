package main

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ============================================================================
// Events - reducer inputs
// ============================================================================
// Events come from the capture poll tick, the refresh tick, IPC clients and
// WebSocket clients. The daemon loop is the only consumer.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// WireSample is a motion sample as external producers send it: t in milliseconds.
type WireSample struct {
	T  float64 `json:"t"`
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Raw converts to engine units (seconds).
func (w WireSample) Raw() RawSample {
	return RawSample{T: w.T / wireTimeScale, DX: w.DX, DY: w.DY}
}

// ============================================================================
// Ingestion events
// ============================================================================

// SamplesCaptured carries the samples drained from the capture buffer on a poll tick.
type SamplesCaptured struct {
	Samples []RawSample
	At      time.Time
}

func (SamplesCaptured) eventMarker() {}

// PushSamples is an explicit push from an external feed (IPC/WS).
type PushSamples struct {
	Samples []WireSample `json:"samples"`
}

func (PushSamples) eventMarker() {}

// RefreshTick drives the view: flush staged points and publish what is new.
type RefreshTick struct {
	Now time.Time
}

func (RefreshTick) eventMarker() {}

// ============================================================================
// Control events
// ============================================================================

// FlushSeries publishes staged points now.
type FlushSeries struct{}

func (FlushSeries) eventMarker() {}

// ClearSeries drops all series data and starts a new session.
type ClearSeries struct{}

func (ClearSeries) eventMarker() {}

// SetSmoothFPS sets the resampler bucket rate (buckets per second).
type SetSmoothFPS struct {
	FPS float64 `json:"fps"`
}

func (SetSmoothFPS) eventMarker() {}

// SetRetention sets the retention horizon in seconds.
type SetRetention struct {
	Seconds float64 `json:"seconds"`
}

func (SetRetention) eventMarker() {}

// SetIngestPolicy switches between "immediate" and "staged".
type SetIngestPolicy struct {
	Policy IngestPolicy `json:"policy"`
}

func (SetIngestPolicy) eventMarker() {}

// View freeze controls. A frozen view stops periodic flush/publish; ingestion continues.
type FreezeView struct{}
type ResumeView struct{}
type ToggleFreeze struct{}

func (FreezeView) eventMarker()   {}
func (ResumeView) eventMarker()   {}
func (ToggleFreeze) eventMarker() {}

// Capture controls.
type StartCapture struct{}
type StopCapture struct{}

func (StartCapture) eventMarker() {}
func (StopCapture) eventMarker()  {}

// ============================================================================
// Request/response events (in-process only; carry reply channels)
// ============================================================================

// RequestSnapshot asks the daemon for a coherent copy of the series state.
// Reply should be buffered (size 1); the daemon never blocks on it.
type RequestSnapshot struct {
	Reply chan SeriesSnapshot
}

func (RequestSnapshot) eventMarker() {}

// RequestExport asks for the raw series encoded as an export document.
type RequestExport struct {
	Reply chan ExportReply
}

func (RequestExport) eventMarker() {}

// ImportSeries replaces the series with the samples of an export document.
type ImportSeries struct {
	Data  []byte
	Reply chan error
}

func (ImportSeries) eventMarker() {}

// ExportReply is the result of a RequestExport.
type ExportReply struct {
	Data []byte
	Err  error
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps control events for IPC and WebSocket clients.
// Request/response types are handled by the IPC server and never decode to an Event.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return decodeEnvelope(env)
}

func decodeEnvelope(env EventEnvelope) (Event, error) {
	switch env.Type {
	case "push_samples":
		var a PushSamples
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal PushSamples: %w", err)
		}
		return a, nil

	case "flush":
		return FlushSeries{}, nil
	case "clear":
		return ClearSeries{}, nil

	case "set_smooth_fps":
		var a SetSmoothFPS
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetSmoothFPS: %w", err)
		}
		if !(a.FPS > 0) || math.IsInf(a.FPS, 0) {
			return nil, fmt.Errorf("set_smooth_fps: %w (got %v)", errBadFPS, a.FPS)
		}
		return a, nil

	case "set_retention":
		var a SetRetention
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetRetention: %w", err)
		}
		if !validHorizon(a.Seconds) {
			return nil, fmt.Errorf("set_retention: %w (got %v)", errBadHorizon, a.Seconds)
		}
		return a, nil

	case "set_ingest_policy":
		var a SetIngestPolicy
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetIngestPolicy: %w", err)
		}
		if _, err := ParseIngestPolicy(string(a.Policy)); err != nil {
			return nil, err
		}
		return a, nil

	case "freeze":
		return FreezeView{}, nil
	case "resume":
		return ResumeView{}, nil
	case "toggle_freeze":
		return ToggleFreeze{}, nil
	case "start_capture":
		return StartCapture{}, nil
	case "stop_capture":
		return StopCapture{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes a control Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	withData := func(name string, v any) error {
		env.Type = name
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %T: %w", v, err)
		}
		env.Data = data
		return nil
	}

	var err error
	switch e := e.(type) {
	case PushSamples:
		err = withData("push_samples", e)
	case SetSmoothFPS:
		err = withData("set_smooth_fps", e)
	case SetRetention:
		err = withData("set_retention", e)
	case SetIngestPolicy:
		err = withData("set_ingest_policy", e)

	case FlushSeries:
		env.Type = "flush"
	case ClearSeries:
		env.Type = "clear"
	case FreezeView:
		env.Type = "freeze"
	case ResumeView:
		env.Type = "resume"
	case ToggleFreeze:
		env.Type = "toggle_freeze"
	case StartCapture:
		env.Type = "start_capture"
	case StopCapture:
		env.Type = "stop_capture"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}

package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"time"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Time returns the kernel timestamp of the event.
func (ev inputEvent) Time() time.Time {
	return time.Unix(ev.Sec, ev.Usec*int64(time.Microsecond))
}

// motionSink receives assembled motion frames.
type motionSink interface {
	pushAt(at time.Time, dx, dy float64)
}

// motionAssembler folds EV_REL X/Y events into one motion frame per SYN_REPORT.
// Each device needs its own assembler; frames are per-device.
type motionAssembler struct {
	dx, dy  int32
	pending bool
	// dropping is set after SYN_DROPPED until the next SYN_REPORT; the kernel
	// discarded events in between, so the partial frame is not trustworthy.
	dropping bool
}

// feed consumes one event and reports a completed frame, if any.
func (a *motionAssembler) feed(ev inputEvent) (at time.Time, dx, dy float64, ok bool) {
	switch ev.Type {
	case EV_REL:
		if a.dropping {
			return
		}
		switch ev.Code {
		case REL_X:
			a.dx += ev.Value
			a.pending = true
		case REL_Y:
			a.dy += ev.Value
			a.pending = true
		}

	case EV_SYN:
		switch ev.Code {
		case SYN_DROPPED:
			a.reset()
			a.dropping = true
		case SYN_REPORT:
			if a.dropping {
				a.dropping = false
				return
			}
			if a.pending {
				at, dx, dy, ok = ev.Time(), float64(a.dx), float64(a.dy), true
			}
			a.reset()
		}
	}
	return
}

func (a *motionAssembler) reset() {
	a.dx, a.dy = 0, 0
	a.pending = false
}

// readInputEvents reads input events from one device, assembles motion frames,
// and hands them to sink. This runs in a dedicated goroutine and blocks on read.
func readInputEvents(f *os.File, sink motionSink, readErr chan<- error) {
	readInputStream(f, sink, readErr)
}

// readInputStream is readInputEvents over any reader (device files, test fixtures).
func readInputStream(r io.Reader, sink motionSink, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	var asm motionAssembler
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		if at, dx, dy, ok := asm.feed(ev); ok {
			sink.pushAt(at, dx, dy)
		}
	}
}

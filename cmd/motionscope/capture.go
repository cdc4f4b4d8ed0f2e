package main

import (
	"sync"
	"time"
)

// captureBuffer collects normalized samples from input goroutines until the
// daemon drains them on its poll tick. It is the only motion state shared
// across goroutines; everything past drain() is daemon-owned.
type captureBuffer struct {
	mu      sync.Mutex
	start   time.Time
	pending []RawSample
	dropped uint64 // samples stamped before the current capture start
}

func newCaptureBuffer(now time.Time) *captureBuffer {
	return &captureBuffer{start: now}
}

// pushAt records a motion frame with an absolute timestamp. The engine time is
// seconds since capture start; frames from before the start belong to a previous
// session and are dropped.
func (c *captureBuffer) pushAt(at time.Time, dx, dy float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at.Before(c.start) {
		c.dropped++
		return
	}
	c.pending = append(c.pending, RawSample{
		T:  at.Sub(c.start).Seconds(),
		DX: dx,
		DY: dy,
	})
}

// pushSample records an already-normalized sample (external feeds with their own clock).
func (c *captureBuffer) pushSample(s RawSample) {
	c.mu.Lock()
	c.pending = append(c.pending, s)
	c.mu.Unlock()
}

// drain returns and clears the pending samples.
func (c *captureBuffer) drain() []RawSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// restart drops pending samples and moves the capture start to now.
func (c *captureBuffer) restart(now time.Time) {
	c.mu.Lock()
	c.start = now
	c.pending = nil
	c.dropped = 0
	c.mu.Unlock()
}

// startTime returns the current capture start.
func (c *captureBuffer) startTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// droppedCount returns how many frames were dropped since the last restart.
func (c *captureBuffer) droppedCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

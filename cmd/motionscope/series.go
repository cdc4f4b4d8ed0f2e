package main

import "github.com/gammazero/deque"

// series is one derived series (raw or smoothed) split into the visible part
// readers see and a staging part that Flush moves over.
//
// Logically the series is visible followed by staged; with the immediate policy
// staged stays empty.
type series struct {
	visible deque.Deque[DerivedPoint]
	staged  deque.Deque[DerivedPoint]

	// appended counts points that became visible in the current generation.
	// gen changes whenever the visible series is replaced wholesale (clear, recompute),
	// which invalidates any appended-based cursor held by a consumer.
	appended uint64
	gen      uint64
}

// last returns the newest point of the logical series (staged-last if anything is
// staged, else visible-last), or nil if the series is empty.
func (s *series) last() *DerivedPoint {
	if s.staged.Len() > 0 {
		p := s.staged.Back()
		return &p
	}
	if s.visible.Len() > 0 {
		p := s.visible.Back()
		return &p
	}
	return nil
}

func (s *series) push(p DerivedPoint, staged bool) {
	if staged {
		s.staged.PushBack(p)
		return
	}
	s.visible.PushBack(p)
	s.appended++
}

// flush moves every staged point, in order, to the visible series.
func (s *series) flush() int {
	n := s.staged.Len()
	for s.staged.Len() > 0 {
		s.visible.PushBack(s.staged.PopFront())
	}
	s.appended += uint64(n)
	return n
}

// evict applies the retention rule against the newest logical point.
// Visible entries are older than staged ones, so the visible buffer is trimmed first.
func (s *series) evict(horizon float64) int {
	newest := s.last()
	if newest == nil {
		return 0
	}
	n := trimFront(&s.visible, newest.T, horizon, pointTime)
	if s.visible.Len() == 0 {
		n += trimFront(&s.staged, newest.T, horizon, pointTime)
	}
	return n
}

// reset empties both buffers and starts a new generation.
func (s *series) reset() {
	s.visible.Clear()
	s.staged.Clear()
	s.appended = 0
	s.gen++
}

// visibleSlice copies the visible series.
func (s *series) visibleSlice() []DerivedPoint {
	return copyDeque(&s.visible)
}

// stagedSlice copies the staging buffer.
func (s *series) stagedSlice() []DerivedPoint {
	return copyDeque(&s.staged)
}

// since returns a copy of the visible points appended after mark, capped to what
// is still retained.
func (s *series) since(mark uint64) []DerivedPoint {
	if mark >= s.appended {
		return nil
	}
	k := s.appended - mark
	n := uint64(s.visible.Len())
	if k > n {
		k = n
	}
	out := make([]DerivedPoint, 0, k)
	for i := int(n - k); i < int(n); i++ {
		out = append(out, s.visible.At(i))
	}
	return out
}

func copyDeque[T any](q *deque.Deque[T]) []T {
	out := make([]T, q.Len())
	for i := range out {
		out[i] = q.At(i)
	}
	return out
}

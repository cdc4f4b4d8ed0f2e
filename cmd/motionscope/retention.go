package main

import "github.com/gammazero/deque"

// trimFront drops entries from the front of q while newest-oldest exceeds horizon.
// Series are time-ordered, so eviction never touches the middle. It returns the
// number of evicted entries.
func trimFront[T any](q *deque.Deque[T], newest, horizon float64, at func(T) float64) int {
	n := 0
	for q.Len() > 0 && newest-at(q.Front()) > horizon {
		q.PopFront()
		n++
	}
	return n
}

func pointTime(p DerivedPoint) float64 { return p.T }

func sampleTime(s RawSample) float64 { return s.T }

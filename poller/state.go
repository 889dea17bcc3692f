package poller

import (
	"sync"
	"time"
)

// State is the polling state shared by the three loops: the new-work
// watermark plus the in-flight dedupe set absorbing overlapping ticks.
type State struct {
	mu        sync.Mutex
	watermark time.Time
	inflight  map[int64]struct{}
}

// NewState constructs an empty State.
func NewState() *State {
	return &State{inflight: make(map[int64]struct{})}
}

// Watermark returns the current new-work watermark.
func (s *State) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// AdvanceWatermark moves the watermark forward. Earlier timestamps are
// ignored so the watermark is monotonically non-decreasing.
func (s *State) AdvanceWatermark(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.watermark) {
		s.watermark = t
	}
}

// TryAcquire inserts the id into the in-flight set. It returns false when
// the id is already in flight.
func (s *State) TryAcquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// Release removes the id from the in-flight set.
func (s *State) Release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// InFlight returns the size of the in-flight set.
func (s *State) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

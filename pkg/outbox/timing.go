package outbox

import "time"

// resolveTiming returns the live timing slot for key, following the alias
// table when the slot has been moved to the backend id.
func (s *Store) resolveTiming(key string) *Timing {
	if a, ok := s.alias[key]; ok {
		key = a
	}
	return s.timings[key]
}

// RecordTTFT writes the time-to-first-token metric for key, at most once
// per request. Late calls after a drop are tolerated as no-ops. Returns
// true when the value was written.
func (s *Store) RecordTTFT(key string, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.resolveTiming(key)
	if t == nil || t.HasTTFT {
		return false
	}
	t.TTFTMs = d.Milliseconds()
	t.HasTTFT = true
	return true
}

// RecordHistoryLatency writes the elapsed time between the local transcript
// append and the message's appearance in the authoritative session history,
// at most once per request.
func (s *Store) RecordHistoryLatency(key string, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.resolveTiming(key)
	if t == nil || t.HasHistory {
		return false
	}
	t.HistoryMs = d.Milliseconds()
	t.HasHistory = true
	return true
}

// Timing returns a copy of the timing slot addressable by either id.
func (s *Store) Timing(key string) (Timing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.resolveTiming(key)
	if t == nil {
		return Timing{}, false
	}
	return *t, true
}

// TimingCount reports the number of live timing slots. It never exceeds
// the live request count.
func (s *Store) TimingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timings)
}

package monitor

import (
	"sync"
	"time"
)

// seenTable records processed trade identities so a fill that reappears in
// subsequent activity fetches is emitted at most once. It is safe for
// concurrent use.
//
// Eviction is capacity-triggered: once the table grows past its threshold,
// the next insert sweeps out every entry older than the caller's cutoff in
// one pass. Amortized O(n) cleanup keeps memory bounded over arbitrarily
// long uptime without per-entry timers.
type seenTable struct {
	mu       sync.Mutex
	entries  map[string]time.Time // identity -> first seen
	capacity int
}

const defaultSeenCapacity = 10000

func newSeenTable(capacity int) *seenTable {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &seenTable{
		entries:  make(map[string]time.Time),
		capacity: capacity,
	}
}

// MarkSeen records the identity and reports whether it was already present.
// cutoff bounds the sweep when the table is over capacity.
func (s *seenTable) MarkSeen(id string, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return true
	}
	if len(s.entries) >= s.capacity {
		s.sweepLocked(cutoff)
	}
	s.entries[id] = time.Now().UTC()
	return false
}

func (s *seenTable) sweepLocked(cutoff time.Time) {
	for id, ts := range s.entries {
		if ts.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// Len reports the current number of recorded identities.
func (s *seenTable) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

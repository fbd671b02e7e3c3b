package mapanalysis

import (
	"sync"
	"time"
)

// JobStore keeps staged results keyed by analysis id. The absence of an entry
// means the job is either still running or was never submitted; callers
// cannot distinguish the two (see GetStatus).
type JobStore interface {
	Get(analysisID string) (StagedResult, bool)
	Put(result StagedResult)
	Delete(analysisID string)
	Len() int
	Snapshot() []StagedResult
	Clear()
	// Sweep stamps entries missing an InsertedAt, removes entries older than
	// ttl, and clears the whole store when more than maxEntries remain.
	// It returns the ids removed and whether the store was cleared wholesale.
	Sweep(now time.Time, ttl time.Duration, maxEntries int) (removed []string, cleared bool)
}

// MemoryJobStore is the in-memory JobStore used in production; staged results
// are deliberately not durable (see Confirm/Discard).
type MemoryJobStore struct {
	mu   sync.RWMutex
	data map[string]StagedResult
}

// NewMemoryJobStore constructs an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{data: make(map[string]StagedResult)}
}

// Get returns the staged result for an analysis id.
func (s *MemoryJobStore) Get(analysisID string) (StagedResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.data[analysisID]
	return result, ok
}

// Put stores a staged result, stamping InsertedAt when unset.
func (s *MemoryJobStore) Put(result StagedResult) {
	if result.InsertedAt.IsZero() {
		result.InsertedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[result.AnalysisID] = result
}

// Delete removes the staged result for an analysis id, if any.
func (s *MemoryJobStore) Delete(analysisID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, analysisID)
}

// Len returns the number of staged results.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of all staged results.
func (s *MemoryJobStore) Snapshot() []StagedResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StagedResult, 0, len(s.data))
	for _, result := range s.data {
		out = append(out, result)
	}
	return out
}

// Clear removes every staged result.
func (s *MemoryJobStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]StagedResult)
}

// Sweep applies the TTL and size-cap eviction policy.
func (s *MemoryJobStore) Sweep(now time.Time, ttl time.Duration, maxEntries int) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, result := range s.data {
		if result.InsertedAt.IsZero() {
			// Grandfather pre-existing entries into the TTL scheme.
			result.InsertedAt = now
			s.data[id] = result
			continue
		}
		if now.Sub(result.InsertedAt) > ttl {
			delete(s.data, id)
			removed = append(removed, id)
		}
	}

	if maxEntries > 0 && len(s.data) > maxEntries {
		for id := range s.data {
			removed = append(removed, id)
		}
		s.data = make(map[string]StagedResult)
		return removed, true
	}
	return removed, false
}

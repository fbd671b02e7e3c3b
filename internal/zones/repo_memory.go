package zones

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data []Zone
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

// Save stores a zone, assigning an ID when missing.
func (r *MemoryRepo) Save(ctx context.Context, zone Zone) (Zone, error) {
	if err := ctx.Err(); err != nil {
		return Zone{}, err
	}
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, zone)
	return zone, nil
}

// CountByAnalysisID returns the number of zones created by an analysis.
func (r *MemoryRepo) CountByAnalysisID(ctx context.Context, analysisID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for i := range r.data {
		if r.data[i].AnalysisID == analysisID {
			n++
		}
	}
	return n, nil
}

// DeleteByAnalysisID removes all zones created by an analysis.
func (r *MemoryRepo) DeleteByAnalysisID(ctx context.Context, analysisID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.data[:0]
	var removed int64
	for i := range r.data {
		if r.data[i].AnalysisID == analysisID {
			removed++
			continue
		}
		kept = append(kept, r.data[i])
	}
	r.data = kept
	return removed, nil
}

// SnapshotByAnalysisID returns copies of the zones created by an analysis.
func (r *MemoryRepo) SnapshotByAnalysisID(analysisID string) []Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Zone
	for i := range r.data {
		if r.data[i].AnalysisID == analysisID {
			out = append(out, r.data[i])
		}
	}
	return out
}

// Count returns the total number of zones.
func (r *MemoryRepo) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.data)), nil
}

// DeleteAll removes every zone.
func (r *MemoryRepo) DeleteAll(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := int64(len(r.data))
	r.data = nil
	return removed, nil
}

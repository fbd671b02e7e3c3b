package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Entry)}
}

// Save stores or overwrites an entry.
func (r *MemoryRepo) Save(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[entry.AnalysisID] = entry
	return nil
}

// Get returns an entry by analysis id.
func (r *MemoryRepo) Get(ctx context.Context, analysisID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.data[analysisID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// List returns all entries, newest first.
func (r *MemoryRepo) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.data))
	for _, e := range r.data {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Delete removes an entry by analysis id.
func (r *MemoryRepo) Delete(ctx context.Context, analysisID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[analysisID]; !ok {
		return ErrNotFound
	}
	delete(r.data, analysisID)
	return nil
}

// FindOverlapping returns same-type entries whose bounds intersect the box.
func (r *MemoryRepo) FindOverlapping(ctx context.Context, mapType string, swLat, swLng, neLat, neLng float64) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.MapType != mapType || !e.HasBounds() {
			continue
		}
		if *e.BoundsNELat < swLat || *e.BoundsSWLat > neLat ||
			*e.BoundsNELng < swLng || *e.BoundsSWLng > neLng {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

package history

import "context"

// Repo persists analysis history entries.
type Repo interface {
	Save(ctx context.Context, entry Entry) error
	Get(ctx context.Context, analysisID string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, analysisID string) error
	// FindOverlapping returns entries of the same map type whose bounds
	// intersect the given box, newest first.
	FindOverlapping(ctx context.Context, mapType string, swLat, swLng, neLat, neLng float64) ([]Entry, error)
}

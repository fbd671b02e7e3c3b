package history

import (
	"errors"
	"time"

	"agrimap-backend/internal/vision"
)

// ErrNotFound indicates a missing history record.
var ErrNotFound = errors.New("analysis history not found")

// Entry records one committed map analysis for the admin rollback UI.
type Entry struct {
	AnalysisID        string
	CreatedAt         time.Time
	MapType           string
	Province          string
	District          string
	Status            string
	ZoneCount         int
	Notes             string
	UserID            int64
	OriginalImagePath string

	// Geographic bounds of the analyzed map, when georeferenced.
	BoundsSWLat *float64
	BoundsSWLng *float64
	BoundsNELat *float64
	BoundsNELng *float64

	// The four control points used for georeferencing, when present.
	ControlPoints []vision.ControlPoint

	TotalAreaHectares *float64
}

// HasBounds reports whether all four bound coordinates are present.
func (e Entry) HasBounds() bool {
	return e.BoundsSWLat != nil && e.BoundsSWLng != nil && e.BoundsNELat != nil && e.BoundsNELng != nil
}

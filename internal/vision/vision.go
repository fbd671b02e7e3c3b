package vision

import (
	"context"
	"errors"
)

// ProgressFunc receives step-by-step progress while an analysis runs.
type ProgressFunc func(step, status, message string)

// ControlPoint ties a pixel position on the uploaded image to a geographic
// coordinate. Georeferenced analysis requires exactly four of them.
type ControlPoint struct {
	PixelX float64 `json:"pixelX"`
	PixelY float64 `json:"pixelY"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// LatLng is a geographic point.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Coordinates describes the georeference of the whole analyzed map.
type Coordinates struct {
	SW     *LatLng `json:"sw,omitempty"`
	NE     *LatLng `json:"ne,omitempty"`
	Center *LatLng `json:"center,omitempty"`
}

// Request carries the inputs for one map-image analysis.
type Request struct {
	ImageKey      string
	Province      string
	District      string
	MapType       string
	ControlPoints []ControlPoint
}

// Result is the structured output of an analysis run.
type Result struct {
	Success     bool
	Zones       []ZoneCandidate
	Coordinates *Coordinates
	Logs        []string
	Error       string
}

// Analyzer abstracts the multi-stage map-image analysis.
//
// Implementations invoke onProgress zero or more times as stages advance and
// either return a Result or an error for unrecoverable failures. When
// req.ControlPoints is set the analysis runs in georeferenced mode.
type Analyzer interface {
	Analyze(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error)
}

// ErrNotConfigured is returned by the placeholder analyzer.
var ErrNotConfigured = errors.New("vision provider not configured")

// Placeholder is the analyzer used when no provider is configured.
type Placeholder struct{}

// Analyze returns ErrNotConfigured.
func (Placeholder) Analyze(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	_ = ctx
	_ = req
	_ = onProgress
	return Result{}, ErrNotConfigured
}

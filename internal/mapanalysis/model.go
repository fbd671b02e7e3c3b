package mapanalysis

import (
	"time"

	"agrimap-backend/internal/vision"
)

const (
	MapTypeSoil     = "soil"
	MapTypePlanning = "planning"

	DefaultProvince = "Cà Mau"
)

// ProgressEvent is one step update emitted while an analysis runs. Events for
// a single job are produced by one worker and therefore arrive in order; a
// subscriber that attaches late misses earlier events.
type ProgressEvent struct {
	Step      string `json:"step"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`

	// Result is set only on the terminal event so the stream can deliver the
	// staged result before closing. Not part of the progress wire shape.
	Result *StagedResult `json:"-"`
}

// StagedResult is the not-yet-committed outcome of an analysis job. It is
// written exactly once by the worker that ran the job and never mutated
// afterwards, except for the InsertedAt stamp used by the janitor.
type StagedResult struct {
	AnalysisID    string                 `json:"analysisId"`
	Success       bool                   `json:"success"`
	Zones         []vision.ZoneCandidate `json:"zones,omitempty"`
	Coordinates   *vision.Coordinates    `json:"coordinates,omitempty"`
	MapType       string                 `json:"mapType"`
	Province      string                 `json:"province"`
	District      string                 `json:"district,omitempty"`
	ImagePath     string                 `json:"imagePath,omitempty"`
	ControlPoints []vision.ControlPoint  `json:"controlPoints,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Logs          []string               `json:"logs,omitempty"`

	// Eviction bookkeeping only.
	InsertedAt time.Time `json:"-"`
}

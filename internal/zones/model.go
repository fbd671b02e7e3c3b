package zones

import "time"

// Source tag stamped on every zone produced by the analysis pipeline.
const SourceAIMultiAnalysis = "AI_MULTI_ANALYSIS"

// Zone is a validated, persistable planning zone.
type Zone struct {
	ID                  string
	AnalysisID          string
	Name                string
	Notes               string
	ZoneCode            string
	Province            string
	District            string
	MapType             string
	ZoneType            string
	LandUsePurpose      string
	FillColor           string
	StrokeColor         string
	FillOpacity         float64
	AreaSqm             *float64
	BoundaryCoordinates string
	CenterLat           *float64
	CenterLng           *float64
	ImageURL            string
	CreatedBy           int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Source              string
	Verified            bool
}

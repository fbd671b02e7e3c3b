package vision

import (
	"bytes"
	"encoding/json"
)

// ZoneCandidate is one untrusted zone description produced by an analyzer.
// Every field is optional; the converter in the zones package is responsible
// for validation and truncation before anything is persisted.
type ZoneCandidate struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ZoneCode    string `json:"zoneCode,omitempty"`
	SoilType    string `json:"soilType,omitempty"`
	ZoneType    string `json:"zoneType,omitempty"`
	FillColor   string `json:"fillColor,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`

	AreaSqm      *float64 `json:"areaSqm,omitempty"`
	AreaM2       *float64 `json:"areaM2,omitempty"`
	AreaHectares *float64 `json:"areaHectares,omitempty"`
	AreaPercent  *float64 `json:"areaPercent,omitempty"`
	CenterLat    *float64 `json:"centerLat,omitempty"`
	CenterLng    *float64 `json:"centerLng,omitempty"`
	FillOpacity  *float64 `json:"fillOpacity,omitempty"`

	Boundary Boundary `json:"boundaryCoordinates,omitempty"`
}

// Boundary holds a zone outline either as an already-serialized shape string
// or as a raw point list, whichever the analyzer produced.
type Boundary struct {
	Serialized string
	Points     []LatLng
}

// IsZero reports whether no boundary was supplied at all.
func (b Boundary) IsZero() bool {
	return b.Serialized == "" && b.Points == nil
}

// UnmarshalJSON accepts either a JSON string (pre-serialized shape) or an
// array of {lat,lng} points. Anything else is ignored rather than failing the
// whole candidate.
func (b *Boundary) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &b.Serialized)
	case '[':
		var points []LatLng
		if err := json.Unmarshal(data, &points); err != nil {
			// Not a point list; keep the raw array as the serialized form.
			b.Serialized = string(data)
			return nil
		}
		b.Points = points
		return nil
	default:
		return nil
	}
}

// MarshalJSON emits the serialized form when present, else the point list.
func (b Boundary) MarshalJSON() ([]byte, error) {
	if b.Serialized != "" {
		return json.Marshal(b.Serialized)
	}
	if b.Points != nil {
		return json.Marshal(b.Points)
	}
	return []byte("null"), nil
}

package zones

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"agrimap-backend/internal/vision"
)

const (
	maxNameLen           = 255
	maxZoneCodeLen       = 20
	maxProvinceLen       = 100
	maxDistrictLen       = 100
	maxMapTypeLen        = 20
	maxZoneTypeLen       = 50
	maxLandUsePurposeLen = 255

	defaultFillColor   = "#808080"
	defaultStrokeColor = "#333333"
	defaultFillOpacity = 0.5

	// Heuristic square meters per percent point for province-scale maps.
	sqmPerPercent = 10000

	// Center coordinates outside the Vietnam bounding box are discarded.
	minLat = 8.0
	maxLat = 24.0
	minLng = 102.0
	maxLng = 110.0
)

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ConvertContext carries the per-analysis values stamped on every zone.
type ConvertContext struct {
	Coordinates *vision.Coordinates
	Province    string
	District    string
	MapType     string
	CreatorID   int64
	Now         time.Time
}

// FromCandidate validates and sanitizes one untrusted zone candidate into a
// persistable Zone. Free-form text is truncated to column limits, the fill
// color must match the hex pattern, and center coordinates are only kept when
// they fall inside the Vietnam bounding box.
func FromCandidate(c vision.ZoneCandidate, cc ConvertContext) Zone {
	now := cc.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	z := Zone{
		Province:    truncate(cc.Province, maxProvinceLen),
		District:    truncate(cc.District, maxDistrictLen),
		StrokeColor: defaultStrokeColor,
		FillOpacity: defaultFillOpacity,
		CreatedBy:   cc.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      SourceAIMultiAnalysis,
		Verified:    false,
	}

	name := c.Name
	if name == "" {
		name = "Vùng AI"
	}
	z.Name = truncate(name, maxNameLen)
	z.Notes = c.Description

	if c.ZoneCode != "" && utf8.RuneCountInString(c.ZoneCode) <= maxZoneCodeLen {
		z.ZoneCode = c.ZoneCode
	} else {
		z.ZoneCode = "AI_" + strings.ToUpper(uuid.NewString()[:6])
	}

	mapType := cc.MapType
	if mapType == "" {
		mapType = "soil"
	}
	z.MapType = truncate(mapType, maxMapTypeLen)

	zoneType := c.SoilType
	if zoneType == "" {
		zoneType = c.ZoneType
	}
	if strings.TrimSpace(zoneType) == "" {
		zoneType = "Unknown"
	}
	z.ZoneType = truncate(zoneType, maxZoneTypeLen)
	z.LandUsePurpose = truncate(zoneType, maxLandUsePurposeLen)

	if hexColorPattern.MatchString(c.FillColor) {
		z.FillColor = c.FillColor
	} else {
		z.FillColor = defaultFillColor
	}
	if c.FillOpacity != nil {
		z.FillOpacity = round2(*c.FillOpacity)
	}

	z.AreaSqm = resolveArea(c)
	z.BoundaryCoordinates = resolveBoundary(c.Boundary)
	z.CenterLat, z.CenterLng = resolveCenter(c, cc.Coordinates)
	z.ImageURL = c.ImageURL

	return z
}

func resolveArea(c vision.ZoneCandidate) *float64 {
	switch {
	case c.AreaSqm != nil && *c.AreaSqm > 0:
		return ptr(round2(*c.AreaSqm))
	case c.AreaM2 != nil && *c.AreaM2 > 0:
		return ptr(round2(*c.AreaM2))
	case c.AreaHectares != nil && *c.AreaHectares > 0:
		return ptr(round2(*c.AreaHectares * 10000))
	case c.AreaPercent != nil:
		return ptr(round2(*c.AreaPercent * sqmPerPercent))
	default:
		return nil
	}
}

func resolveBoundary(b vision.Boundary) string {
	if b.Serialized != "" {
		return b.Serialized
	}
	if b.Points != nil {
		data, err := json.Marshal(b.Points)
		if err == nil {
			return string(data)
		}
	}
	return "[]"
}

func resolveCenter(c vision.ZoneCandidate, coords *vision.Coordinates) (*float64, *float64) {
	if c.CenterLat != nil && c.CenterLng != nil && inVietnamBounds(*c.CenterLat, *c.CenterLng) {
		return ptr(round7(*c.CenterLat)), ptr(round7(*c.CenterLng))
	}
	if coords != nil && coords.Center != nil && inVietnamBounds(coords.Center.Lat, coords.Center.Lng) {
		return ptr(round7(coords.Center.Lat)), ptr(round7(coords.Center.Lng))
	}
	return nil, nil
}

func inVietnamBounds(lat, lng float64) bool {
	return lat >= minLat && lat <= maxLat && lng >= minLng && lng <= maxLng
}

// truncate limits s to max characters, not bytes. Column limits count
// characters and Vietnamese text is multi-byte; slicing bytes would split a
// rune and produce invalid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}

func ptr(v float64) *float64 { return &v }

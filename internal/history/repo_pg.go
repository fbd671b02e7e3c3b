package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"agrimap-backend/internal/vision"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const entryColumns = `
analysis_id, created_at, map_type, province, district, status, zone_count,
notes, user_id, original_image_path, bounds_sw_lat, bounds_sw_lng,
bounds_ne_lat, bounds_ne_lng, control_points, total_area_hectares`

// Save upserts an entry keyed by analysis id.
func (r *PGRepo) Save(ctx context.Context, entry Entry) error {
	controlPoints, err := marshalControlPoints(entry.ControlPoints)
	if err != nil {
		return fmt.Errorf("marshal control points: %w", err)
	}
	const query = `
INSERT INTO map_analysis_history (` + entryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (analysis_id) DO UPDATE SET
	status = EXCLUDED.status,
	zone_count = EXCLUDED.zone_count,
	notes = EXCLUDED.notes,
	total_area_hectares = EXCLUDED.total_area_hectares`
	_, err = r.DB.ExecContext(ctx, query,
		entry.AnalysisID,
		entry.CreatedAt,
		entry.MapType,
		entry.Province,
		nullString(entry.District),
		entry.Status,
		entry.ZoneCount,
		nullString(entry.Notes),
		entry.UserID,
		nullString(entry.OriginalImagePath),
		nullFloat(entry.BoundsSWLat),
		nullFloat(entry.BoundsSWLng),
		nullFloat(entry.BoundsNELat),
		nullFloat(entry.BoundsNELng),
		controlPoints,
		nullFloat(entry.TotalAreaHectares),
	)
	return err
}

// Get returns an entry by analysis id.
func (r *PGRepo) Get(ctx context.Context, analysisID string) (Entry, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM map_analysis_history WHERE analysis_id = $1`, analysisID)
	return scanEntry(row)
}

// List returns all entries, newest first.
func (r *PGRepo) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM map_analysis_history ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Delete removes an entry by analysis id.
func (r *PGRepo) Delete(ctx context.Context, analysisID string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM map_analysis_history WHERE analysis_id = $1`, analysisID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOverlapping returns same-type entries whose bounds intersect the box.
func (r *PGRepo) FindOverlapping(ctx context.Context, mapType string, swLat, swLng, neLat, neLng float64) ([]Entry, error) {
	const query = `
SELECT ` + entryColumns + `
FROM map_analysis_history
WHERE map_type = $1
  AND bounds_sw_lat IS NOT NULL AND bounds_sw_lng IS NOT NULL
  AND bounds_ne_lat IS NOT NULL AND bounds_ne_lng IS NOT NULL
  AND bounds_ne_lat >= $2 AND bounds_sw_lat <= $4
  AND bounds_ne_lng >= $3 AND bounds_sw_lng <= $5
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, mapType, swLat, swLng, neLat, neLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry         Entry
		district      sql.NullString
		notes         sql.NullString
		imagePath     sql.NullString
		swLat, swLng  sql.NullFloat64
		neLat, neLng  sql.NullFloat64
		controlPoints []byte
		totalHa       sql.NullFloat64
	)
	err := row.Scan(
		&entry.AnalysisID,
		&entry.CreatedAt,
		&entry.MapType,
		&entry.Province,
		&district,
		&entry.Status,
		&entry.ZoneCount,
		&notes,
		&entry.UserID,
		&imagePath,
		&swLat, &swLng, &neLat, &neLng,
		&controlPoints,
		&totalHa,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	entry.District = district.String
	entry.Notes = notes.String
	entry.OriginalImagePath = imagePath.String
	entry.BoundsSWLat = floatPtr(swLat)
	entry.BoundsSWLng = floatPtr(swLng)
	entry.BoundsNELat = floatPtr(neLat)
	entry.BoundsNELng = floatPtr(neLng)
	entry.TotalAreaHectares = floatPtr(totalHa)
	if len(controlPoints) > 0 {
		var cps []vision.ControlPoint
		if err := json.Unmarshal(controlPoints, &cps); err == nil {
			entry.ControlPoints = cps
		}
	}
	return entry, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func marshalControlPoints(cps []vision.ControlPoint) (any, error) {
	if len(cps) == 0 {
		return nil, nil
	}
	return json.Marshal(cps)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

package zones

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Save inserts a new zone.
func (r *PGRepo) Save(ctx context.Context, zone Zone) (Zone, error) {
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	const query = `
INSERT INTO planning_zones (
	id, analysis_id, name, notes, zone_code, province, district, map_type,
	zone_type, land_use_purpose, fill_color, stroke_color, fill_opacity,
	area_sqm, boundary_coordinates, center_lat, center_lng, image_url,
	created_by, created_at, updated_at, source, verified
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := r.DB.ExecContext(ctx, query,
		zone.ID,
		zone.AnalysisID,
		zone.Name,
		nullString(zone.Notes),
		zone.ZoneCode,
		zone.Province,
		nullString(zone.District),
		zone.MapType,
		zone.ZoneType,
		zone.LandUsePurpose,
		zone.FillColor,
		zone.StrokeColor,
		zone.FillOpacity,
		nullFloat(zone.AreaSqm),
		zone.BoundaryCoordinates,
		nullFloat(zone.CenterLat),
		nullFloat(zone.CenterLng),
		nullString(zone.ImageURL),
		zone.CreatedBy,
		zone.CreatedAt,
		zone.UpdatedAt,
		zone.Source,
		zone.Verified,
	)
	if err != nil {
		return Zone{}, err
	}
	return zone, nil
}

// CountByAnalysisID returns the number of zones created by an analysis.
func (r *PGRepo) CountByAnalysisID(ctx context.Context, analysisID string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM planning_zones WHERE analysis_id = $1`, analysisID).Scan(&n)
	return n, err
}

// DeleteByAnalysisID removes all zones created by an analysis.
func (r *PGRepo) DeleteByAnalysisID(ctx context.Context, analysisID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM planning_zones WHERE analysis_id = $1`, analysisID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the total number of zones.
func (r *PGRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM planning_zones`).Scan(&n)
	return n, err
}

// DeleteAll removes every zone.
func (r *PGRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM planning_zones`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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

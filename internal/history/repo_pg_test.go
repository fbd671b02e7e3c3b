package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"agrimap-backend/internal/vision"
)

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"analysis_id", "created_at", "map_type", "province", "district",
		"status", "zone_count", "notes", "user_id", "original_image_path",
		"bounds_sw_lat", "bounds_sw_lng", "bounds_ne_lat", "bounds_ne_lng",
		"control_points", "total_area_hectares",
	})
}

func TestPGRepoSaveMarshalsControlPoints(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	swLat, swLng, neLat, neLng := 8.8, 104.9, 9.2, 105.2
	totalHa := 12.34
	entry := Entry{
		AnalysisID:        "a1b2c3d4",
		CreatedAt:         time.Now().UTC(),
		MapType:           "planning",
		Province:          "Cà Mau",
		District:          "Đầm Dơi",
		Status:            "completed",
		ZoneCount:         3,
		Notes:             "field check ok",
		UserID:            1,
		OriginalImagePath: "map-images/a1b2c3d4_plan.png",
		BoundsSWLat:       &swLat, BoundsSWLng: &swLng,
		BoundsNELat: &neLat, BoundsNELng: &neLng,
		ControlPoints: []vision.ControlPoint{
			{PixelX: 0, PixelY: 0, Lat: 9.2, Lng: 104.9},
			{PixelX: 100, PixelY: 0, Lat: 9.2, Lng: 105.2},
			{PixelX: 100, PixelY: 100, Lat: 8.8, Lng: 105.2},
			{PixelX: 0, PixelY: 100, Lat: 8.8, Lng: 104.9},
		},
		TotalAreaHectares: &totalHa,
	}

	mock.ExpectExec("INSERT INTO map_analysis_history").
		WithArgs(
			entry.AnalysisID,
			entry.CreatedAt,
			entry.MapType,
			entry.Province,
			entry.District,
			entry.Status,
			entry.ZoneCount,
			entry.Notes,
			entry.UserID,
			entry.OriginalImagePath,
			swLat, swLng, neLat, neLng,
			sqlmock.AnyArg(), // control_points JSON
			totalHa,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveNullsAbsentOptionals(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	entry := Entry{
		AnalysisID: "a1b2c3d4",
		CreatedAt:  time.Now().UTC(),
		MapType:    "soil",
		Province:   "Cà Mau",
		Status:     "completed",
		ZoneCount:  1,
		UserID:     1,
	}

	mock.ExpectExec("INSERT INTO map_analysis_history").
		WithArgs(
			entry.AnalysisID,
			entry.CreatedAt,
			entry.MapType,
			entry.Province,
			nil, // district
			entry.Status,
			entry.ZoneCount,
			nil, // notes
			entry.UserID,
			nil,                // original_image_path
			nil, nil, nil, nil, // bounds
			nil, // control_points
			nil, // total_area_hectares
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetScansBoundsAndControlPoints(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	created := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery("SELECT .+ FROM map_analysis_history WHERE analysis_id").
		WithArgs("a1b2c3d4").
		WillReturnRows(entryRows().AddRow(
			"a1b2c3d4", created, "planning", "Cà Mau", "Đầm Dơi",
			"completed", 3, "field check ok", int64(1), "map-images/a1b2c3d4_plan.png",
			8.8, 104.9, 9.2, 105.2,
			[]byte(`[{"pixelX":0,"pixelY":0,"lat":9.2,"lng":104.9}]`), 12.34,
		))

	entry, err := repo.Get(context.Background(), "a1b2c3d4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.AnalysisID != "a1b2c3d4" || entry.ZoneCount != 3 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !entry.HasBounds() {
		t.Fatalf("expected bounds to be set")
	}
	if *entry.BoundsSWLat != 8.8 || *entry.BoundsNELng != 105.2 {
		t.Fatalf("unexpected bounds: %+v", entry)
	}
	if len(entry.ControlPoints) != 1 || entry.ControlPoints[0].Lat != 9.2 {
		t.Fatalf("unexpected control points: %+v", entry.ControlPoints)
	}
	if entry.TotalAreaHectares == nil || *entry.TotalAreaHectares != 12.34 {
		t.Fatalf("unexpected total area: %+v", entry.TotalAreaHectares)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetReturnsErrNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	mock.ExpectQuery("SELECT .+ FROM map_analysis_history WHERE analysis_id").
		WithArgs("missing1").
		WillReturnRows(entryRows())

	if _, err := repo.Get(context.Background(), "missing1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoDeleteReturnsErrNotFoundOnZeroRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	mock.ExpectExec("DELETE FROM map_analysis_history WHERE analysis_id").
		WithArgs("missing1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "missing1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFindOverlappingFiltersByTypeAndBox(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	created := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery("SELECT .+ FROM map_analysis_history\\s+WHERE map_type").
		WithArgs("planning", 9.0, 105.0, 9.2, 105.2).
		WillReturnRows(entryRows().AddRow(
			"previous", created, "planning", "Cà Mau", nil,
			"completed", 4, nil, int64(1), nil,
			8.9, 104.9, 9.1, 105.1,
			nil, nil,
		))

	entries, err := repo.FindOverlapping(context.Background(), "planning", 9.0, 105.0, 9.2, 105.2)
	if err != nil {
		t.Fatalf("FindOverlapping: %v", err)
	}
	if len(entries) != 1 || entries[0].AnalysisID != "previous" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].District != "" || entries[0].ControlPoints != nil {
		t.Fatalf("expected null columns to scan as zero values: %+v", entries[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

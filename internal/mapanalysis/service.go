package mapanalysis

import (
	"context"
	"fmt"
	"io"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"agrimap-backend/internal/history"
	"agrimap-backend/internal/shared/metrics"
	"agrimap-backend/internal/shared/storage/object"
	"agrimap-backend/internal/shared/telemetry"
	"agrimap-backend/internal/shared/util"
	"agrimap-backend/internal/vision"
	"agrimap-backend/internal/zones"
)

const (
	maxUploadBytes = 50 << 20 // 50MB

	imageKeyPrefix = "map-images"

	// Creator stamped on zones when no authenticated user is available.
	SystemCreatorID int64 = 1
)

// Service coordinates the analysis pipeline: it validates submissions,
// creates job identity, dispatches to the worker pool, relays progress, and
// exposes the staged-result lifecycle (status/confirm/discard).
type Service struct {
	Jobs     JobStore
	Progress *ChannelManager
	Pool     *Pool
	Store    object.ObjectStore
	Analyzer vision.Analyzer
	Zones    zones.Repo
	History  history.Repo
}

// SubmitInput carries one uploaded map image plus its parameters.
type SubmitInput struct {
	FileName      string
	Size          int64
	Body          io.Reader
	Province      string
	District      string
	MapType       string
	ControlPoints []vision.ControlPoint
}

// SubmitResult is returned as soon as the job is dispatched.
type SubmitResult struct {
	AnalysisID string
	ImagePath  string
}

// Submit validates the upload, stores the image, and dispatches the analysis
// to the worker pool. It never blocks; a saturated pool is reported as
// ErrQueueFull, and no staged result exists until the worker completes.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		return SubmitResult{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	ext := strings.ToLower(path.Ext(fileName))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return SubmitResult{}, fmt.Errorf("%w: only JPG and PNG files are supported", ErrInvalidInput)
	}
	if in.Size <= 0 {
		return SubmitResult{}, fmt.Errorf("%w: image file is empty", ErrInvalidInput)
	}
	if in.Size > maxUploadBytes {
		return SubmitResult{}, fmt.Errorf("%w: file too large (max 50MB)", ErrInvalidInput)
	}
	if len(in.ControlPoints) != 0 && len(in.ControlPoints) != 4 {
		return SubmitResult{}, fmt.Errorf("%w: exactly 4 control points are required", ErrInvalidInput)
	}

	province := strings.TrimSpace(in.Province)
	if province == "" {
		province = DefaultProvince
	}
	mapType := strings.TrimSpace(in.MapType)
	if mapType == "" {
		mapType = MapTypeSoil
	}

	analysisID := uuid.NewString()[:8]
	imageKey := path.Join(imageKeyPrefix, analysisID+"_"+util.SanitizeMapImageName(fileName))

	if _, err := s.Store.SaveWithKey(ctx, imageKey, contentTypeForExt(ext), in.Body); err != nil {
		return SubmitResult{}, fmt.Errorf("save image: %w", err)
	}

	telemetry.Info("analysis.submitted", map[string]any{
		"analysis_id": analysisID,
		"image_path":  imageKey,
		"province":    province,
		"district":    in.District,
		"map_type":    mapType,
		"georef":      len(in.ControlPoints) == 4,
	})

	district := strings.TrimSpace(in.District)
	controlPoints := in.ControlPoints
	err := s.Pool.Submit(func() {
		s.runAnalysis(analysisID, imageKey, province, district, mapType, controlPoints)
	})
	if err != nil {
		telemetry.Error("analysis.rejected", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
		return SubmitResult{}, err
	}

	return SubmitResult{AnalysisID: analysisID, ImagePath: imageKey}, nil
}

// runAnalysis is the worker task body. Adapter failures are converted into a
// failed staged result, never allowed to escape the worker.
func (s *Service) runAnalysis(analysisID, imageKey, province, district, mapType string, controlPoints []vision.ControlPoint) {
	ctx := context.Background()
	startedAt := time.Now().UTC()
	metrics.IncAnalysisStarted()

	onProgress := func(step, status, message string) {
		s.Progress.Publish(analysisID, ProgressEvent{
			Step:      step,
			Status:    status,
			Message:   message,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	result, err := s.Analyzer.Analyze(ctx, vision.Request{
		ImageKey:      imageKey,
		Province:      province,
		District:      district,
		MapType:       mapType,
		ControlPoints: controlPoints,
	}, onProgress)

	staged := StagedResult{
		AnalysisID:    analysisID,
		MapType:       mapType,
		Province:      province,
		District:      district,
		ImagePath:     imageKey,
		ControlPoints: controlPoints,
		InsertedAt:    time.Now().UTC(),
	}
	if err != nil {
		staged.Success = false
		staged.Error = err.Error()
	} else {
		staged.Success = result.Success
		staged.Zones = result.Zones
		staged.Coordinates = result.Coordinates
		staged.Error = result.Error
		staged.Logs = result.Logs
	}

	s.Jobs.Put(staged)
	metrics.SetStagedResults(s.Jobs.Len())

	finalStatus := StatusFailed
	if staged.Success {
		finalStatus = StatusCompleted
		metrics.IncAnalysisCompleted()
	} else {
		metrics.IncAnalysisFailed()
	}
	durationMs := float64(time.Since(startedAt).Microseconds()) / 1000.0
	metrics.ObserveAnalysisDurationMs(durationMs)
	telemetry.Info("analysis.status", map[string]any{
		"analysis_id": analysisID,
		"status":      finalStatus,
		"zones":       len(staged.Zones),
		"error":       staged.Error,
		"duration_ms": durationMs,
	})

	s.Progress.Publish(analysisID, ProgressEvent{
		Step:      "complete",
		Status:    finalStatus,
		Message:   "analysis finished",
		Timestamp: time.Now().UnixMilli(),
		Result:    &staged,
	})
	s.Progress.Close(analysisID)
}

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Status is the answer to a status query.
type Status struct {
	Status string
	Result *StagedResult
	Error  string
	Logs   []string
}

// GetStatus reports the job state. Absence of a staged result means
// "processing": the registry cannot distinguish a job still running from one
// that was evicted or never existed.
func (s *Service) GetStatus(analysisID string) Status {
	staged, ok := s.Jobs.Get(analysisID)
	if !ok {
		return Status{Status: StatusProcessing}
	}
	if staged.Success {
		return Status{Status: StatusCompleted, Result: &staged}
	}
	errMsg := staged.Error
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return Status{Status: StatusFailed, Error: errMsg, Logs: staged.Logs}
}

// ConfirmInput carries the optional overrides accepted by Confirm. Values
// recorded in the staged result take precedence over these.
type ConfirmInput struct {
	MapType   string
	Notes     string
	CreatorID int64
}

// Confirm converts the staged candidate zones into persisted records and
// removes the staged result. It is not idempotent: a second call reports
// ErrNotFound. A per-zone persistence failure is logged and skipped.
func (s *Service) Confirm(ctx context.Context, analysisID string, in ConfirmInput) (int, error) {
	staged, ok := s.Jobs.Get(analysisID)
	if !ok {
		return 0, ErrNotFound
	}

	mapType := staged.MapType
	if mapType == "" {
		mapType = in.MapType
	}
	if mapType == "" {
		mapType = MapTypePlanning
	}
	province := staged.Province
	if province == "" {
		province = DefaultProvince
	}

	if existing, err := s.findOverlapping(ctx, mapType, staged.Coordinates); err == nil && existing != nil {
		return 0, DuplicateLocationError{
			ExistingID: existing.AnalysisID,
			ExistingAt: existing.CreatedAt,
			ZoneCount:  existing.ZoneCount,
		}
	}

	creatorID := in.CreatorID
	if creatorID == 0 {
		creatorID = SystemCreatorID
	}
	now := time.Now().UTC()
	cc := zones.ConvertContext{
		Coordinates: staged.Coordinates,
		Province:    province,
		District:    staged.District,
		MapType:     mapType,
		CreatorID:   creatorID,
		Now:         now,
	}

	saved := 0
	for i, candidate := range staged.Zones {
		zone := zones.FromCandidate(candidate, cc)
		zone.AnalysisID = analysisID
		if _, err := s.Zones.Save(ctx, zone); err != nil {
			telemetry.Error("zone.save_failed", map[string]any{
				"analysis_id": analysisID,
				"zone_index":  i,
				"error":       err.Error(),
			})
			continue
		}
		saved++
	}

	s.saveHistory(ctx, staged, mapType, province, in.Notes, creatorID, saved, now)

	s.Jobs.Delete(analysisID)
	metrics.SetStagedResults(s.Jobs.Len())

	telemetry.Info("analysis.confirmed", map[string]any{
		"analysis_id": analysisID,
		"saved_zones": saved,
		"total_zones": len(staged.Zones),
	})
	return saved, nil
}

// findOverlapping returns the newest committed analysis whose bounds overlap
// the staged coordinates, or nil when there is none (or no bounds at all).
func (s *Service) findOverlapping(ctx context.Context, mapType string, coords *vision.Coordinates) (*history.Entry, error) {
	if coords == nil || coords.SW == nil || coords.NE == nil {
		return nil, nil
	}
	overlapping, err := s.History.FindOverlapping(ctx, mapType,
		coords.SW.Lat, coords.SW.Lng, coords.NE.Lat, coords.NE.Lng)
	if err != nil {
		telemetry.Error("history.overlap_check_failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	if len(overlapping) == 0 {
		return nil, nil
	}
	return &overlapping[0], nil
}

// saveHistory records the committed analysis; failures are logged, they never
// fail the confirm.
func (s *Service) saveHistory(ctx context.Context, staged StagedResult, mapType, province, notes string, creatorID int64, saved int, now time.Time) {
	entry := history.Entry{
		AnalysisID:        staged.AnalysisID,
		CreatedAt:         now,
		MapType:           mapType,
		Province:          province,
		District:          staged.District,
		Status:            StatusCompleted,
		ZoneCount:         saved,
		Notes:             notes,
		UserID:            creatorID,
		OriginalImagePath: staged.ImagePath,
		ControlPoints:     staged.ControlPoints,
	}
	if staged.Coordinates != nil && staged.Coordinates.SW != nil && staged.Coordinates.NE != nil {
		entry.BoundsSWLat = &staged.Coordinates.SW.Lat
		entry.BoundsSWLng = &staged.Coordinates.SW.Lng
		entry.BoundsNELat = &staged.Coordinates.NE.Lat
		entry.BoundsNELng = &staged.Coordinates.NE.Lng
	}
	var totalHa float64
	for _, candidate := range staged.Zones {
		if candidate.AreaHectares != nil {
			totalHa += *candidate.AreaHectares
		}
	}
	if totalHa > 0 {
		rounded := math.Round(totalHa*100) / 100
		entry.TotalAreaHectares = &rounded
	}

	if err := s.History.Save(ctx, entry); err != nil {
		telemetry.Error("history.save_failed", map[string]any{
			"analysis_id": staged.AnalysisID,
			"error":       err.Error(),
		})
	}
}

// Discard drops the staged result, the progress channel, and any zones or
// history already committed for the analysis id. Absent entries are ignored.
func (s *Service) Discard(ctx context.Context, analysisID string) int64 {
	s.Jobs.Delete(analysisID)
	metrics.SetStagedResults(s.Jobs.Len())
	s.Progress.Close(analysisID)

	var deleted int64
	n, err := s.Zones.DeleteByAnalysisID(ctx, analysisID)
	if err != nil {
		telemetry.Error("zones.delete_failed", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
	} else {
		deleted = n
	}
	if err := s.History.Delete(ctx, analysisID); err != nil && err != history.ErrNotFound {
		telemetry.Error("history.delete_failed", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
	}
	return deleted
}

// HistoryItem is one row of the merged history listing.
type HistoryItem struct {
	AnalysisID string    `json:"analysisId"`
	Timestamp  time.Time `json:"timestamp"`
	MapType    string    `json:"mapType,omitempty"`
	Province   string    `json:"province,omitempty"`
	District   string    `json:"district,omitempty"`
	Status     string    `json:"status"`
	ZoneCount  int       `json:"zoneCount"`
	Notes      string    `json:"notes,omitempty"`
	Persisted  bool      `json:"persisted"`
}

// MergedHistory combines committed history with in-memory results that have
// not been confirmed yet, newest first.
func (s *Service) MergedHistory(ctx context.Context) ([]HistoryItem, error) {
	entries, err := s.History.List(ctx)
	if err != nil {
		telemetry.Error("history.list_failed", map[string]any{"error": err.Error()})
		entries = nil
	}

	items := make([]HistoryItem, 0, len(entries))
	persisted := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		persisted[e.AnalysisID] = struct{}{}
		items = append(items, HistoryItem{
			AnalysisID: e.AnalysisID,
			Timestamp:  e.CreatedAt,
			MapType:    e.MapType,
			Province:   e.Province,
			District:   e.District,
			Status:     e.Status,
			ZoneCount:  e.ZoneCount,
			Notes:      e.Notes,
			Persisted:  true,
		})
	}

	for _, staged := range s.Jobs.Snapshot() {
		if _, ok := persisted[staged.AnalysisID]; ok {
			continue
		}
		items = append(items, HistoryItem{
			AnalysisID: staged.AnalysisID,
			Timestamp:  staged.InsertedAt,
			MapType:    staged.MapType,
			Province:   staged.Province,
			District:   staged.District,
			Status:     "pending",
			ZoneCount:  len(staged.Zones),
			Persisted:  false,
		})
	}

	sortHistoryItems(items)
	return items, nil
}

// Rollback removes a committed analysis: its zones and its history record.
func (s *Service) Rollback(ctx context.Context, analysisID string) (int64, error) {
	if _, err := s.History.Get(ctx, analysisID); err != nil {
		return 0, err
	}
	deleted, err := s.Zones.DeleteByAnalysisID(ctx, analysisID)
	if err != nil {
		return 0, err
	}
	if err := s.History.Delete(ctx, analysisID); err != nil {
		return deleted, err
	}
	telemetry.Info("analysis.rollback", map[string]any{
		"analysis_id":   analysisID,
		"deleted_zones": deleted,
	})
	return deleted, nil
}

// DeleteAllZones wipes every planning zone and clears the staging registry.
func (s *Service) DeleteAllZones(ctx context.Context) (int64, error) {
	deleted, err := s.Zones.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.Jobs.Clear()
	metrics.SetStagedResults(0)
	return deleted, nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func sortHistoryItems(items []HistoryItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}

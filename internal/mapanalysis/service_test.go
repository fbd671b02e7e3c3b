package mapanalysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"agrimap-backend/internal/history"
	"agrimap-backend/internal/vision"
	"agrimap-backend/internal/zones"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) SaveWithKey(ctx context.Context, key string, contentType string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.objects[key] = data
	return int64(len(data)), nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeAnalyzer struct {
	fn func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error)
}

func (a fakeAnalyzer) Analyze(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
	return a.fn(ctx, req, onProgress)
}

func threeZones() []vision.ZoneCandidate {
	out := make([]vision.ZoneCandidate, 3)
	for i := range out {
		out[i] = vision.ZoneCandidate{
			Name:      fmt.Sprintf("Zone %d", i+1),
			FillColor: "#00AA00",
		}
	}
	return out
}

func newTestService(analyzer vision.Analyzer) (*Service, func()) {
	pool := NewPool(2, 100)
	svc := &Service{
		Jobs:     NewMemoryJobStore(),
		Progress: NewChannelManager(),
		Pool:     pool,
		Store:    newFakeStore(),
		Analyzer: analyzer,
		Zones:    zones.NewMemoryRepo(),
		History:  history.NewMemoryRepo(),
	}
	return svc, pool.Shutdown
}

func submitPNG(t *testing.T, svc *Service) SubmitResult {
	t.Helper()
	res, err := svc.Submit(context.Background(), SubmitInput{
		FileName: "plan.png",
		Size:     4,
		Body:     strings.NewReader("data"),
		Province: "Cà Mau",
		MapType:  MapTypePlanning,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func waitForStaged(t *testing.T, svc *Service, analysisID string) StagedResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if staged, ok := svc.Jobs.Get(analysisID); ok {
			return staged
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("staged result for %s never appeared", analysisID)
	return StagedResult{}
}

func TestSubmitReturnsUniqueIDs(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		res := submitPNG(t, svc)
		if len(res.AnalysisID) != 8 {
			t.Fatalf("expected 8-char analysis id, got %q", res.AnalysisID)
		}
		if _, dup := seen[res.AnalysisID]; dup {
			t.Fatalf("duplicate analysis id %q", res.AnalysisID)
		}
		seen[res.AnalysisID] = struct{}{}
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()

	_, err := svc.Submit(context.Background(), SubmitInput{
		FileName: "notes.txt",
		Size:     4,
		Body:     strings.NewReader("data"),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "JPG and PNG") {
		t.Fatalf("error should name the accepted formats, got %q", err.Error())
	}

	_, err = svc.Submit(context.Background(), SubmitInput{
		FileName: "plan.png",
		Size:     maxUploadBytes + 1,
		Body:     strings.NewReader("data"),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected size error, got %v", err)
	}

	_, err = svc.Submit(context.Background(), SubmitInput{
		FileName: "plan.png",
		Size:     0,
		Body:     strings.NewReader(""),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty-file error, got %v", err)
	}

	_, err = svc.Submit(context.Background(), SubmitInput{
		FileName:      "plan.png",
		Size:          4,
		Body:          strings.NewReader("data"),
		ControlPoints: []vision.ControlPoint{{}, {}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected control-point count error, got %v", err)
	}
}

func TestSubmitRejectedWhenPoolSaturated(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var startedOnce sync.Once
	release := make(chan struct{})
	pool := NewPool(1, 1)
	svc := &Service{
		Jobs:     NewMemoryJobStore(),
		Progress: NewChannelManager(),
		Pool:     pool,
		Store:    newFakeStore(),
		Analyzer: fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
			startedOnce.Do(func() { close(started) })
			<-release
			return vision.Result{Success: true}, nil
		}},
		Zones:   zones.NewMemoryRepo(),
		History: history.NewMemoryRepo(),
	}
	defer func() {
		close(release)
		pool.Shutdown()
	}()

	submitPNG(t, svc) // occupies the only worker
	<-started
	submitPNG(t, svc) // fills the only queue slot

	_, err := svc.Submit(context.Background(), SubmitInput{
		FileName: "plan.png",
		Size:     4,
		Body:     strings.NewReader("data"),
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestGetStatusProcessingBeforeCompletion(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		<-release
		return vision.Result{Success: true, Zones: threeZones()}, nil
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	if got := svc.GetStatus(res.AnalysisID); got.Status != StatusProcessing {
		t.Fatalf("expected processing before worker completes, got %q", got.Status)
	}

	close(release)
	waitForStaged(t, svc, res.AnalysisID)
	if got := svc.GetStatus(res.AnalysisID); got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}
}

func TestAnalyzerErrorBecomesFailedResult(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{}, errors.New("provider unreachable")
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	waitForStaged(t, svc, res.AnalysisID)

	got := svc.GetStatus(res.AnalysisID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if got.Error != "provider unreachable" {
		t.Fatalf("unexpected error message: %q", got.Error)
	}
}

func TestConfirmPersistsZonesAndRemovesStagedResult(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true, Zones: threeZones()}, nil
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	waitForStaged(t, svc, res.AnalysisID)

	saved, err := svc.Confirm(context.Background(), res.AnalysisID, ConfirmInput{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if saved != 3 {
		t.Fatalf("expected 3 saved zones, got %d", saved)
	}

	n, err := svc.Zones.CountByAnalysisID(context.Background(), res.AnalysisID)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 persisted zones, got %d (%v)", n, err)
	}

	// Second confirm finds nothing staged.
	if _, err := svc.Confirm(context.Background(), res.AnalysisID, ConfirmInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second confirm, got %v", err)
	}

	// Absence reads as processing again.
	if got := svc.GetStatus(res.AnalysisID); got.Status != StatusProcessing {
		t.Fatalf("expected processing after confirm removed the entry, got %q", got.Status)
	}

	// Confirm records history.
	entry, err := svc.History.Get(context.Background(), res.AnalysisID)
	if err != nil {
		t.Fatalf("expected history entry: %v", err)
	}
	if entry.ZoneCount != 3 || entry.Status != StatusCompleted {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
}

func TestConfirmMapTypePrecedence(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()

	// Staged value wins over the caller's override.
	svc.Jobs.Put(StagedResult{AnalysisID: "staged01", Success: true, MapType: MapTypeSoil, Zones: threeZones()})
	if _, err := svc.Confirm(context.Background(), "staged01", ConfirmInput{MapType: MapTypePlanning}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	zs := snapshotZones(t, svc, "staged01")
	if zs[0].MapType != MapTypeSoil {
		t.Fatalf("expected staged map type to win, got %q", zs[0].MapType)
	}

	// Caller override applies when the staged result has none.
	svc.Jobs.Put(StagedResult{AnalysisID: "staged02", Success: true, Zones: threeZones()})
	if _, err := svc.Confirm(context.Background(), "staged02", ConfirmInput{MapType: MapTypeSoil}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	zs = snapshotZones(t, svc, "staged02")
	if zs[0].MapType != MapTypeSoil {
		t.Fatalf("expected override map type, got %q", zs[0].MapType)
	}

	// Neither staged nor override falls back to planning.
	svc.Jobs.Put(StagedResult{AnalysisID: "staged03", Success: true, Zones: threeZones()})
	if _, err := svc.Confirm(context.Background(), "staged03", ConfirmInput{}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	zs = snapshotZones(t, svc, "staged03")
	if zs[0].MapType != MapTypePlanning {
		t.Fatalf("expected planning fallback, got %q", zs[0].MapType)
	}
}

func snapshotZones(t *testing.T, svc *Service, analysisID string) []zones.Zone {
	t.Helper()
	repo, ok := svc.Zones.(*zones.MemoryRepo)
	if !ok {
		t.Fatalf("test requires memory repo")
	}
	all := repo.SnapshotByAnalysisID(analysisID)
	if len(all) == 0 {
		t.Fatalf("no zones stored for %s", analysisID)
	}
	return all
}

func TestDiscardThenConfirmReturnsNotFound(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true, Zones: threeZones()}, nil
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	waitForStaged(t, svc, res.AnalysisID)

	svc.Discard(context.Background(), res.AnalysisID)
	if _, err := svc.Confirm(context.Background(), res.AnalysisID, ConfirmInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after discard, got %v", err)
	}
}

func TestConfirmBlockedByOverlappingHistory(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()

	swLat, swLng, neLat, neLng := 8.9, 104.9, 9.1, 105.1
	existing := history.Entry{
		AnalysisID:  "previous",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		MapType:     MapTypePlanning,
		Province:    DefaultProvince,
		Status:      StatusCompleted,
		ZoneCount:   4,
		UserID:      1,
		BoundsSWLat: &swLat, BoundsSWLng: &swLng,
		BoundsNELat: &neLat, BoundsNELng: &neLng,
	}
	if err := svc.History.Save(context.Background(), existing); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	svc.Jobs.Put(StagedResult{
		AnalysisID: "overlap01",
		Success:    true,
		MapType:    MapTypePlanning,
		Zones:      threeZones(),
		Coordinates: &vision.Coordinates{
			SW: &vision.LatLng{Lat: 9.0, Lng: 105.0},
			NE: &vision.LatLng{Lat: 9.2, Lng: 105.2},
		},
	})

	_, err := svc.Confirm(context.Background(), "overlap01", ConfirmInput{})
	var dup DuplicateLocationError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateLocationError, got %v", err)
	}
	if dup.ExistingID != "previous" || dup.ZoneCount != 4 {
		t.Fatalf("unexpected duplicate details: %+v", dup)
	}

	// The staged result stays so the client can discard or retry.
	if _, ok := svc.Jobs.Get("overlap01"); !ok {
		t.Fatalf("expected staged result to survive a blocked confirm")
	}
}

func TestConfirmSkipsFailingZones(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()
	svc.Zones = &failingZonesRepo{Repo: zones.NewMemoryRepo(), failIndex: 1}

	svc.Jobs.Put(StagedResult{AnalysisID: "partial1", Success: true, Zones: threeZones()})

	saved, err := svc.Confirm(context.Background(), "partial1", ConfirmInput{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if saved != 2 {
		t.Fatalf("expected 2 of 3 zones saved, got %d", saved)
	}
}

type failingZonesRepo struct {
	zones.Repo
	calls     int
	failIndex int
}

func (r *failingZonesRepo) Save(ctx context.Context, zone zones.Zone) (zones.Zone, error) {
	idx := r.calls
	r.calls++
	if idx == r.failIndex {
		return zones.Zone{}, errors.New("insert failed")
	}
	return r.Repo.Save(ctx, zone)
}

func TestMergedHistoryIncludesPendingResults(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true}, nil
	}})
	defer shutdown()

	if err := svc.History.Save(context.Background(), history.Entry{
		AnalysisID: "committed",
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		MapType:    MapTypeSoil,
		Province:   DefaultProvince,
		Status:     StatusCompleted,
		ZoneCount:  2,
		UserID:     1,
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	svc.Jobs.Put(StagedResult{AnalysisID: "pending1", Success: true, Zones: threeZones(), InsertedAt: time.Now().UTC()})

	items, err := svc.MergedHistory(context.Background())
	if err != nil {
		t.Fatalf("MergedHistory: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].AnalysisID != "pending1" || items[0].Persisted || items[0].Status != "pending" {
		t.Fatalf("expected pending entry first, got %+v", items[0])
	}
	if items[0].ZoneCount != 3 {
		t.Fatalf("expected pending zone count 3, got %d", items[0].ZoneCount)
	}
	if items[1].AnalysisID != "committed" || !items[1].Persisted {
		t.Fatalf("expected committed entry second, got %+v", items[1])
	}
}

func TestRollbackDeletesZonesAndHistory(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true, Zones: threeZones()}, nil
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	waitForStaged(t, svc, res.AnalysisID)
	if _, err := svc.Confirm(context.Background(), res.AnalysisID, ConfirmInput{}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	deleted, err := svc.Rollback(context.Background(), res.AnalysisID)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted zones, got %d", deleted)
	}
	if _, err := svc.History.Get(context.Background(), res.AnalysisID); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected history removed, got %v", err)
	}

	if _, err := svc.Rollback(context.Background(), res.AnalysisID); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown rollback, got %v", err)
	}
}

func TestDeleteAllZonesClearsRegistry(t *testing.T) {
	t.Parallel()

	svc, shutdown := newTestService(fakeAnalyzer{fn: func(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
		return vision.Result{Success: true, Zones: threeZones()}, nil
	}})
	defer shutdown()

	res := submitPNG(t, svc)
	waitForStaged(t, svc, res.AnalysisID)
	if _, err := svc.Confirm(context.Background(), res.AnalysisID, ConfirmInput{}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	svc.Jobs.Put(StagedResult{AnalysisID: "leftover", Success: true})

	deleted, err := svc.DeleteAllZones(context.Background())
	if err != nil {
		t.Fatalf("DeleteAllZones: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted zones, got %d", deleted)
	}
	if svc.Jobs.Len() != 0 {
		t.Fatalf("expected registry cleared")
	}
}

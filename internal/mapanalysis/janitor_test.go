package mapanalysis

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJanitorEvictsExpiredAndClosesChannels(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	jobs := NewMemoryJobStore()
	progress := NewChannelManager()
	jobs.Put(StagedResult{AnalysisID: "expired1", InsertedAt: now.Add(-61 * time.Minute)})
	jobs.Put(StagedResult{AnalysisID: "alive1", InsertedAt: now.Add(-59 * time.Minute)})
	ch := progress.Subscribe("expired1")

	j := &Janitor{Jobs: jobs, Progress: progress}
	j.RunOnce(now)

	if _, ok := jobs.Get("expired1"); ok {
		t.Fatalf("expected expired entry evicted")
	}
	if _, ok := jobs.Get("alive1"); !ok {
		t.Fatalf("expected fresh entry kept")
	}
	if _, open := <-ch; open {
		t.Fatalf("expected progress channel of evicted job closed")
	}
}

func TestJanitorSweepsOldUploadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagesDir := filepath.Join(dir, "map-images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	oldFile := filepath.Join(imagesDir, "a1b2c3d4_old.png")
	newFile := filepath.Join(imagesDir, "e5f6a7b8_new.png")
	for _, f := range []string{oldFile, newFile} {
		if err := os.WriteFile(f, []byte("img"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	j := &Janitor{Jobs: NewMemoryJobStore(), Progress: NewChannelManager(), UploadDir: dir}
	j.RunOnce(time.Now().UTC())

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Fatalf("expected stale upload removed, err=%v", err)
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Fatalf("expected recent upload kept: %v", err)
	}
}

func TestJanitorSkipsFileSweepWithoutUploadDir(t *testing.T) {
	t.Parallel()

	j := &Janitor{Jobs: NewMemoryJobStore(), Progress: NewChannelManager()}
	// Must not panic with no upload directory configured.
	j.RunOnce(time.Now().UTC())
}

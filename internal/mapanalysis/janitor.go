package mapanalysis

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"agrimap-backend/internal/shared/metrics"
	"agrimap-backend/internal/shared/telemetry"
)

const (
	// Staged results older than this are evicted.
	stagedResultTTL = time.Hour

	// Safety valve: if the registry somehow exceeds this, everything goes.
	maxStagedResults = 100

	// Uploaded map images on local disk are removed after this long.
	uploadFileTTL = 24 * time.Hour

	janitorInterval = 10 * time.Minute
)

// Janitor periodically evicts expired staged results and stale upload files.
type Janitor struct {
	Jobs     JobStore
	Progress *ChannelManager

	// UploadDir is the local directory holding uploaded images. Empty
	// disables the file sweep (for example when S3 storage is in use).
	UploadDir string
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(time.Now().UTC())
		}
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(now time.Time) {
	removed, cleared := j.Jobs.Sweep(now, stagedResultTTL, maxStagedResults)
	for _, id := range removed {
		j.Progress.Close(id)
	}
	metrics.SetStagedResults(j.Jobs.Len())
	if len(removed) > 0 || cleared {
		telemetry.Info("janitor.sweep", map[string]any{
			"removed": len(removed),
			"cleared": cleared,
		})
	}

	if j.UploadDir != "" {
		j.sweepUploadFiles(now)
	}
}

func (j *Janitor) sweepUploadFiles(now time.Time) {
	dir := filepath.Join(j.UploadDir, imageKeyPrefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			telemetry.Error("janitor.read_dir_failed", map[string]any{
				"dir":   dir,
				"error": err.Error(),
			})
		}
		return
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= uploadFileTTL {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			telemetry.Error("janitor.remove_failed", map[string]any{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		deleted++
	}
	if deleted > 0 {
		telemetry.Info("janitor.upload_sweep", map[string]any{"deleted": deleted})
	}
}

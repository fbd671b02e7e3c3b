package mapanalysis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agrimap-backend/internal/history"
	"agrimap-backend/internal/shared/auth"
	"agrimap-backend/internal/shared/server/middleware"
	"agrimap-backend/internal/shared/server/respond"
	"agrimap-backend/internal/shared/telemetry"
	"agrimap-backend/internal/vision"
)

// Streams are force-closed after this long even if the job is still running.
const progressStreamTimeout = 5 * time.Minute

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches map analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/map-image")
	g.POST("/analyze", h.analyze)
	g.POST("/analyze/georef", h.analyzeGeoref)
	g.GET("/analyze/history", h.mergedHistory)
	g.GET("/analyze/:id/progress", h.progress)
	g.GET("/analyze/:id/status", h.status)
	g.POST("/analyze/:id/confirm", h.confirm)
	g.DELETE("/analyze/:id", h.discard)
	g.GET("/history", h.listHistory)
	g.DELETE("/history/:id", h.rollback)
	g.DELETE("/zones/all", h.deleteAllZones)
}

func (h *Handler) analyze(c *gin.Context) {
	h.submit(c, nil)
}

func (h *Handler) analyzeGeoref(c *gin.Context) {
	raw := strings.TrimSpace(c.PostForm("controlPoints"))
	if raw == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "controlPoints is required", nil)
		return
	}
	var points []vision.ControlPoint
	if err := json.Unmarshal([]byte(raw), &points); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "controlPoints must be a JSON array", nil)
		return
	}
	if len(points) != 4 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "exactly 4 control points are required", nil)
		return
	}
	h.submit(c, points)
}

func (h *Handler) submit(c *gin.Context, controlPoints []vision.ControlPoint) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		// Some clients send the part as "file".
		fileHeader, err = c.FormFile("file")
	}
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "image file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read image file", nil)
		return
	}
	defer file.Close()

	res, err := h.Svc.Submit(c.Request.Context(), SubmitInput{
		FileName:      fileHeader.Filename,
		Size:          fileHeader.Size,
		Body:          file,
		Province:      c.PostForm("province"),
		District:      c.PostForm("district"),
		MapType:       c.PostForm("mapType"),
		ControlPoints: controlPoints,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrQueueFull):
			respond.Error(c, http.StatusServiceUnavailable, "server_busy", "too many analyses in progress, try again later", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "analysis_submit_failed", "failed to start analysis", err.Error())
		}
		return
	}

	c.Set("analysisId", res.AnalysisID)
	respond.OK(c, gin.H{
		"success":    true,
		"analysisId": res.AnalysisID,
		"message":    "analysis started",
		"imagePath":  res.ImagePath,
	})
}

func (h *Handler) progress(c *gin.Context) {
	analysisID := c.Param("id")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respond.Error(c, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported", nil)
		return
	}

	ch := h.Svc.Progress.Subscribe(analysisID)
	defer h.Svc.Progress.Unsubscribe(analysisID, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	writeSSE(c.Writer, "connected", gin.H{"analysisId": analysisID})
	flusher.Flush()

	// A job that finished before the client attached has no channel traffic;
	// deliver the terminal state directly.
	if staged, found := h.Svc.Jobs.Get(analysisID); found {
		finalStatus := StatusFailed
		if staged.Success {
			finalStatus = StatusCompleted
		}
		writeSSE(c.Writer, "complete", gin.H{
			"step":    "complete",
			"status":  finalStatus,
			"message": "analysis finished",
			"result":  staged,
		})
		flusher.Flush()
		return
	}

	timeout := time.NewTimer(progressStreamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-timeout.C:
			writeSSE(c.Writer, "timeout", gin.H{"message": "progress stream timed out"})
			flusher.Flush()
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if event.Result != nil {
				writeSSE(c.Writer, "complete", gin.H{
					"step":    event.Step,
					"status":  event.Status,
					"message": event.Message,
					"result":  event.Result,
				})
				flusher.Flush()
				return
			}
			writeSSE(c.Writer, "progress", event)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		telemetry.Error("sse.marshal_failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	io.WriteString(w, "event: "+event+"\ndata: "+string(data)+"\n\n")
}

func (h *Handler) status(c *gin.Context) {
	st := h.Svc.GetStatus(c.Param("id"))
	switch st.Status {
	case StatusCompleted:
		respond.OK(c, gin.H{"status": StatusCompleted, "results": st.Result})
	case StatusFailed:
		respond.OK(c, gin.H{"status": StatusFailed, "error": st.Error, "logs": st.Logs})
	default:
		respond.OK(c, gin.H{"status": StatusProcessing})
	}
}

type confirmRequest struct {
	MapType string `json:"mapType"`
	Notes   string `json:"notes"`
}

func (h *Handler) confirm(c *gin.Context) {
	analysisID := c.Param("id")

	var req confirmRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	saved, err := h.Svc.Confirm(c.Request.Context(), analysisID, ConfirmInput{
		MapType:   strings.TrimSpace(req.MapType),
		Notes:     strings.TrimSpace(req.Notes),
		CreatorID: creatorIDFromContext(c),
	})
	if err != nil {
		var dup DuplicateLocationError
		switch {
		case errors.As(err, &dup):
			respond.Error(c, http.StatusBadRequest, "duplicateLocation", "this area was already analyzed", gin.H{
				"existingAnalysisId": dup.ExistingID,
				"analyzedAt":         dup.ExistingAt,
				"zoneCount":          dup.ZoneCount,
			})
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusBadRequest, "not_found", "analysis result not found or expired", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "confirm_failed", "failed to confirm analysis", err.Error())
		}
		return
	}

	respond.OK(c, gin.H{
		"success":    true,
		"savedZones": saved,
		"message":    "zones saved",
	})
}

func (h *Handler) discard(c *gin.Context) {
	deleted := h.Svc.Discard(c.Request.Context(), c.Param("id"))
	respond.OK(c, gin.H{
		"success":      true,
		"deletedZones": deleted,
		"message":      "analysis discarded",
	})
}

func (h *Handler) mergedHistory(c *gin.Context) {
	items, err := h.Svc.MergedHistory(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "history_failed", "failed to load history", err.Error())
		return
	}
	respond.OK(c, gin.H{"success": true, "history": items})
}

func (h *Handler) listHistory(c *gin.Context) {
	entries, err := h.Svc.History.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "history_failed", "failed to load history", err.Error())
		return
	}
	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
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
	respond.OK(c, gin.H{"success": true, "history": items})
}

func (h *Handler) rollback(c *gin.Context) {
	analysisID := c.Param("id")
	deleted, err := h.Svc.Rollback(c.Request.Context(), analysisID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "analysis history not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "rollback_failed", "failed to roll back analysis", err.Error())
		return
	}
	respond.OK(c, gin.H{
		"success":      true,
		"deletedZones": deleted,
		"message":      "analysis rolled back",
	})
}

func (h *Handler) deleteAllZones(c *gin.Context) {
	deleted, err := h.Svc.DeleteAllZones(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "delete_failed", "failed to delete zones", err.Error())
		return
	}
	respond.OK(c, gin.H{
		"success":      true,
		"deletedZones": deleted,
	})
}

// creatorIDFromContext resolves the numeric creator id stamped on saved zones.
// Unauthenticated or non-numeric subjects fall back to the system creator.
func creatorIDFromContext(c *gin.Context) int64 {
	if id, ok := auth.CreatorID(middleware.UserIDFromContext(c)); ok {
		return id
	}
	return SystemCreatorID
}

package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

type NotesHandler struct {
	log      *logger.Logger
	registry *jobs.Registry
	notes    services.NotesService
}

func NewNotesHandler(log *logger.Logger, registry *jobs.Registry, notes services.NotesService) *NotesHandler {
	return &NotesHandler{
		log:      log.With("handler", "NotesHandler"),
		registry: registry,
		notes:    notes,
	}
}

// GET /api/analyze_progress?video_id=
func (h *NotesHandler) GetAnalyzeProgress(c *gin.Context) {
	videoID := SafeVideoID(c.Query("video_id"))
	if videoID == "" {
		RespondBadRequest(c, "video_id is required")
		return
	}
	item := h.registry.NotesProgressSnapshot(videoID).Analyze
	RespondOK(c, gin.H{"item": item})
}

// busySnapshot is the already_running payload: the current progress row with
// the running overlay forced on.
func busySnapshot(row jobs.TaskProgress, videoID, defaultMsg string) jobs.TaskProgress {
	if row == nil {
		row = jobs.TaskProgress{}
	}
	row["video_id"] = videoID
	row["status"] = jobs.JobStatusRunning
	row["done"] = false
	if _, ok := row["message"]; !ok {
		row["message"] = defaultMsg
	}
	row["in_progress"] = true
	return row
}

// POST /api/analyze {video_id, force?}
func (h *NotesHandler) Analyze(c *gin.Context) {
	started := time.Now()
	var body struct {
		VideoID string `json:"video_id"`
		Force   bool   `json:"force"`
	}
	_ = c.ShouldBindJSON(&body)
	videoID := SafeVideoID(body.VideoID)
	if videoID == "" {
		RespondBadRequest(c, "video_id is required")
		return
	}

	out, err := h.notes.RunAnalysis(c.Request.Context(), videoID, body.Force)
	if errors.Is(err, services.ErrNotesTaskBusy) {
		snap := busySnapshot(h.registry.GetAnalyzeProgress(videoID), videoID, "Analysis already running.")
		RespondOK(c, gin.H{
			"video_id":      videoID,
			"elapsed_sec":   elapsedSince(started),
			"status":        "already_running",
			"in_progress":   true,
			"item":          snap,
			"analysis":      "",
			"cached":        false,
			"cache_age_sec": 0,
			"lang":          "",
		})
		return
	}
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{
		"video_id":    videoID,
		"elapsed_sec": elapsedSince(started),
	}))
}

// POST /api/ask {video_id, question}
func (h *NotesHandler) Ask(c *gin.Context) {
	started := time.Now()
	var body struct {
		VideoID  string `json:"video_id"`
		Question string `json:"question"`
	}
	_ = c.ShouldBindJSON(&body)
	videoID := SafeVideoID(body.VideoID)
	question := strings.TrimSpace(body.Question)
	if videoID == "" {
		RespondBadRequest(c, "video_id is required")
		return
	}
	if question == "" {
		RespondBadRequest(c, "question is required")
		return
	}

	out, err := h.notes.RunQA(c.Request.Context(), videoID, question)
	if errors.Is(err, services.ErrNotesTaskBusy) {
		snap := busySnapshot(h.registry.GetAskProgress(videoID), videoID, "Ask already running.")
		RespondOK(c, gin.H{
			"video_id":    videoID,
			"elapsed_sec": elapsedSince(started),
			"status":      "already_running",
			"in_progress": true,
			"item":        snap,
			"answer":      "",
			"cached":      false,
		})
		return
	}
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{
		"video_id":    videoID,
		"elapsed_sec": elapsedSince(started),
	}))
}

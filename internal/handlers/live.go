package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

type LiveHandler struct {
	log  *logger.Logger
	live services.LiveService
}

func NewLiveHandler(log *logger.Logger, live services.LiveService) *LiveHandler {
	return &LiveHandler{
		log:  log.With("handler", "LiveHandler"),
		live: live,
	}
}

// POST /api/live/start {url}
func (h *LiveHandler) StartLive(c *gin.Context) {
	url, started, ok := requireURL(c)
	if !ok {
		return
	}
	out, err := h.live.StartLive(c.Request.Context(), url)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

// POST /api/live/stop {video_id}
func (h *LiveHandler) StopLive(c *gin.Context) {
	started := time.Now()
	var body struct {
		VideoID string `json:"video_id"`
	}
	_ = c.ShouldBindJSON(&body)
	videoID := strings.TrimSpace(body.VideoID)
	if videoID == "" {
		RespondBadRequest(c, "video_id is required")
		return
	}
	out, err := h.live.StopLive(videoID)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

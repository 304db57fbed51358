package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

type VideosHandler struct {
	log     *logger.Logger
	catalog services.VideoCatalogService
}

func NewVideosHandler(log *logger.Logger, catalog services.VideoCatalogService) *VideosHandler {
	return &VideosHandler{
		log:     log.With("handler", "VideosHandler"),
		catalog: catalog,
	}
}

// GET /api/videos
func (h *VideosHandler) ListVideos(c *gin.Context) {
	items, err := h.catalog.ListVideos(c.Request.Context())
	if err != nil {
		RespondServerError(c, err)
		return
	}
	if items == nil {
		items = []services.VideoSummary{}
	}
	RespondOK(c, gin.H{"items": items})
}

// GET /api/video?video_id=
func (h *VideosHandler) GetVideo(c *gin.Context) {
	videoID := SafeVideoID(c.Query("video_id"))
	if videoID == "" {
		RespondBadRequest(c, "video_id is required")
		return
	}
	item, err := h.catalog.VideoDetail(c.Request.Context(), videoID)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, gin.H{"item": item})
}

package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

type MediaHandler struct {
	log     *logger.Logger
	library services.LibraryService
	direct  services.DirectMediaService
}

func NewMediaHandler(log *logger.Logger, library services.LibraryService, direct services.DirectMediaService) *MediaHandler {
	return &MediaHandler{
		log:     log.With("handler", "MediaHandler"),
		library: library,
		direct:  direct,
	}
}

func requireURL(c *gin.Context) (string, time.Time, bool) {
	started := time.Now()
	var body struct {
		URL string `json:"url"`
	}
	_ = c.ShouldBindJSON(&body)
	url := strings.TrimSpace(body.URL)
	if url == "" {
		RespondBadRequest(c, "url is required")
		return "", started, false
	}
	return url, started, true
}

// POST /api/save_transcript {url, force?}
func (h *MediaHandler) SaveTranscript(c *gin.Context) {
	started := time.Now()
	var body struct {
		URL   string `json:"url"`
		Force bool   `json:"force"`
	}
	_ = c.ShouldBindJSON(&body)
	url := strings.TrimSpace(body.URL)
	if url == "" {
		RespondBadRequest(c, "url is required")
		return
	}
	out, err := h.library.SaveTranscriptFromURL(c.Request.Context(), url, body.Force)
	if errors.Is(err, services.ErrBadVideoURL) {
		RespondBadRequest(c, err.Error())
		return
	}
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

// POST /api/clear_history {delete_files?}
func (h *MediaHandler) ClearHistory(c *gin.Context) {
	started := time.Now()
	var body struct {
		DeleteFiles *bool `json:"delete_files"`
	}
	_ = c.ShouldBindJSON(&body)
	deleteFiles := true
	if body.DeleteFiles != nil {
		deleteFiles = *body.DeleteFiles
	}
	out, err := h.library.ClearHistory(c.Request.Context(), deleteFiles)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

func (h *MediaHandler) directMedia(c *gin.Context, resolve func(ctx context.Context, url string) (services.DirectMediaResult, error)) {
	url, started, ok := requireURL(c)
	if !ok {
		return
	}
	out, err := resolve(c.Request.Context(), url)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

// POST /api/direct_video {url}
func (h *MediaHandler) DirectVideo(c *gin.Context) {
	h.directMedia(c, h.direct.DirectVideo)
}

// POST /api/direct_audio {url}
func (h *MediaHandler) DirectAudio(c *gin.Context) {
	h.directMedia(c, h.direct.DirectAudio)
}

// POST /api/direct_save_server {url}
func (h *MediaHandler) DirectSaveServer(c *gin.Context) {
	url, started, ok := requireURL(c)
	if !ok {
		return
	}
	out, err := h.direct.StartServerSave(c.Request.Context(), url)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

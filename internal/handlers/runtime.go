package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

const recentSearchLimit = 10

type RuntimeHandler struct {
	log       *logger.Logger
	runtime   *services.RuntimeState
	meta      repos.BotMetaRepo
	qaHistory repos.QAHistoryRepo
	direct    services.DirectMediaService

	wsPath        string
	retentionDays int
}

func NewRuntimeHandler(
	log *logger.Logger,
	runtime *services.RuntimeState,
	meta repos.BotMetaRepo,
	qaHistory repos.QAHistoryRepo,
	direct services.DirectMediaService,
	wsPath string,
	retentionDays int,
) *RuntimeHandler {
	return &RuntimeHandler{
		log:           log.With("handler", "RuntimeHandler"),
		runtime:       runtime,
		meta:          meta,
		qaHistory:     qaHistory,
		direct:        direct,
		wsPath:        wsPath,
		retentionDays: retentionDays,
	}
}

// Snapshot is the runtime panel payload, also sent as the websocket hello.
func (h *RuntimeHandler) Snapshot(ctx context.Context) gin.H {
	snap := gin.H{
		"ws_enabled":     true,
		"ws_path":        h.wsPath,
		"retention_days": h.retentionDays,
		"active_lives":   h.runtime.ListActiveLives(),
	}
	if chats, err := h.meta.LoadKnownChats(ctx, nil); err == nil {
		snap["known_chats"] = len(chats)
	}
	if recent, err := h.qaHistory.LoadRecent(ctx, nil, recentSearchLimit); err == nil {
		snap["recent_searches"] = recent
	}
	if save, ok := h.direct.ActiveServerSave(); ok {
		snap["active_server_save"] = save
	}
	return snap
}

// GET /api/runtime
func (h *RuntimeHandler) GetRuntime(c *gin.Context) {
	RespondOK(c, gin.H{"runtime": h.Snapshot(c.Request.Context())})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/realtime"
)

const wsWriteTimeout = 10 * time.Second

type WSHandler struct {
	log      *logger.Logger
	hub      *realtime.Hub
	registry *jobs.Registry
	runtime  *RuntimeHandler
	upgrader websocket.Upgrader
}

func NewWSHandler(log *logger.Logger, hub *realtime.Hub, registry *jobs.Registry, runtime *RuntimeHandler) *WSHandler {
	return &WSHandler{
		log:      log.With("handler", "WSHandler"),
		hub:      hub,
		registry: registry,
		runtime:  runtime,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// GET /ws
//
// Greets with a hello snapshot, then streams job events until the client
// disconnects or falls behind far enough for the hub to evict it.
func (h *WSHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	hello := h.registry.Hello(h.runtime.Snapshot(c.Request.Context()))
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	// Reader drains control frames and signals close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Outbound:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if werr := conn.WriteJSON(evt); werr != nil {
				return
			}
		}
	}
}

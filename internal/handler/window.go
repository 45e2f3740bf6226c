package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"classbeacon/internal/auth"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GetWindow returns the current window snapshot.
func (h *Handler) GetWindow(c *gin.Context) {
	c.JSON(http.StatusOK, h.win.Snapshot(c.Request.Context()))
}

type openWindowRequest struct {
	DurationMinutes *float64 `json:"duration_minutes" binding:"required"`
}

// OpenWindow opens the window for the requested number of minutes.
func (h *Handler) OpenWindow(c *gin.Context) {
	var req openWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.win.Open(ctx, *req.DurationMinutes); err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	h.log.Info("attendance window opened", "minutes", *req.DurationMinutes, "by", subject(c))
	c.JSON(http.StatusOK, h.win.Snapshot(ctx))
}

// CloseWindow clears the window. Closing a closed window succeeds.
func (h *Handler) CloseWindow(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.win.Close(ctx); err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	h.log.Info("attendance window closed", "by", subject(c))
	c.JSON(http.StatusOK, h.win.Snapshot(ctx))
}

// StreamWindow upgrades to a websocket and pushes a JSON snapshot on every
// change and poll tick until the client goes away.
func (h *Handler) StreamWindow(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("window stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read side only detects the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("window stream closed unexpectedly", "error", err)
				}
				return
			}
		}
	}()

	for snap := range h.win.Watch(ctx, h.pollInterval) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func subject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

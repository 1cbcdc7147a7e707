package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sibylline/forecastmarket/pkg/events"
)

// wsHandler upgrades GET /api/ws to a WebSocket connection and delegates to
// the Broadcaster's per-connection subscribe/publish loop (spec §6 pub/sub
// channels). Blocks until the socket closes.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := events.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody{Error: "websocket upgrade failed"})
		return
	}
	s.broadcaster.HandleConnection(c.Request.Context(), conn)
}

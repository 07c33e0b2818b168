package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/models"
)

// EventsHandler upgrades clients to the websocket event stream.
type EventsHandler struct {
	stream http.Handler
}

// NewEventsHandler creates a new EventsHandler. A nil stream answers 503.
func NewEventsHandler(stream http.Handler) *EventsHandler {
	return &EventsHandler{stream: stream}
}

// Stream serves lifecycle events over a websocket.
// GET /v1/events/stream
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.stream == nil {
		models.RespondWithError(c, models.NewUnavailableError(c.Request.URL.Path, "event stream is not enabled"))
		return
	}
	h.stream.ServeHTTP(c.Writer, c.Request)
}

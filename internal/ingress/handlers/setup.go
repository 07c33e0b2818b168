package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/middleware"
	"github.com/janovincze/tributary/internal/ingress/models"
	"github.com/janovincze/tributary/internal/queue"
)

// SetupTask is the payload enqueued for a setup run.
type SetupTask struct {
	RequestedAt time.Time `json:"requested_at"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// SetupHandler schedules warehouse initialization.
type SetupHandler struct {
	queue queue.Enqueuer
}

// NewSetupHandler creates a new SetupHandler.
func NewSetupHandler(q queue.Enqueuer) *SetupHandler {
	return &SetupHandler{queue: q}
}

// Setup enqueues an init task, which backfills when configured to. Passing
// backfill=false enqueues a setup task that only initializes the warehouse.
// POST /v1/setup
func (h *SetupHandler) Setup(c *gin.Context) {
	name := queue.QueueInit

	if raw := c.Query("backfill"); raw != "" {
		backfill, err := strconv.ParseBool(raw)
		if err != nil {
			models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "backfill must be a boolean"))
			return
		}
		if !backfill {
			name = queue.QueueSetup
		}
	} else if c.Request.ContentLength > 0 {
		var req models.SetupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "invalid setup request: "+err.Error()))
			return
		}
		if req.Backfill != nil && !*req.Backfill {
			name = queue.QueueSetup
		}
	}

	task, err := h.queue.Enqueue(c.Request.Context(), name, SetupTask{
		RequestedAt: time.Now().UTC(),
		RequestedBy: c.GetString(middleware.SubjectKey),
	})
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to enqueue setup"))
		return
	}

	c.JSON(http.StatusAccepted, models.TaskResponse{ID: task.ID, Queue: task.Queue})
}

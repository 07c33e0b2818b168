package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/models"
	"github.com/janovincze/tributary/internal/queue"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// QueueHandler exposes queue depths and dead letters.
type QueueHandler struct {
	queue       queue.Queue
	deadLetters queue.DeadLetterStore
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(q queue.Queue, dl queue.DeadLetterStore) *QueueHandler {
	return &QueueHandler{queue: q, deadLetters: dl}
}

// ListQueues returns the depth of every pipeline queue.
// GET /v1/queues
func (h *QueueHandler) ListQueues(c *gin.Context) {
	depths, err := h.queue.Depths(c.Request.Context(), queue.Names)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to read queue depths"))
		return
	}

	items := make([]models.QueueResponse, 0, len(queue.Names))
	for _, name := range queue.Names {
		items = append(items, models.QueueResponse{Name: name, Depth: depths[name]})
	}
	c.JSON(http.StatusOK, models.ListResponse[models.QueueResponse]{Items: items, Total: len(items)})
}

// GetQueue returns the depth of one queue.
// GET /v1/queues/:name
func (h *QueueHandler) GetQueue(c *gin.Context) {
	name := c.Param("name")
	if !slices.Contains(queue.Names, name) {
		models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path, "unknown queue: "+name))
		return
	}

	depth, err := h.queue.Depth(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to read queue depth"))
		return
	}
	c.JSON(http.StatusOK, models.QueueResponse{Name: name, Depth: depth})
}

// ListDeadLetters returns dead letters, optionally filtered by queue.
// GET /v1/deadletters?queue=sync&limit=50
func (h *QueueHandler) ListDeadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}

	items, err := h.deadLetters.List(c.Request.Context(), c.Query("queue"), limit)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to list dead letters"))
		return
	}
	if items == nil {
		items = []queue.DeadLetter{}
	}
	c.JSON(http.StatusOK, models.ListResponse[models.DeadLetterResponse]{Items: items, Total: len(items)})
}

// RequeueDeadLetter re-submits a dead letter to its original queue.
// POST /v1/deadletters/:id/requeue
func (h *QueueHandler) RequeueDeadLetter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "id must be an integer"))
		return
	}

	task, err := queue.Requeue(c.Request.Context(), h.deadLetters, h.queue, id)
	if err != nil {
		if errors.Is(err, queue.ErrDeadLetterNotFound) {
			models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path, err.Error()))
			return
		}
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to requeue dead letter"))
		return
	}
	c.JSON(http.StatusAccepted, models.TaskResponse{ID: task.ID, Queue: task.Queue})
}

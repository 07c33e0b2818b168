package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/capture"
	"github.com/janovincze/tributary/internal/ingress/models"
)

// DefaultMaxBodyBytes bounds request bodies carrying documents.
const DefaultMaxBodyBytes = 4 << 20

// Capturer records document mutations.
type Capturer interface {
	Handle(ctx context.Context, m export.Mutation) error
}

// MutationHandler accepts mutation events pushed by the document store.
type MutationHandler struct {
	capturer     Capturer
	maxBodyBytes int64
	now          func() time.Time
}

// NewMutationHandler creates a new MutationHandler.
func NewMutationHandler(capturer Capturer, maxBodyBytes int64) *MutationHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &MutationHandler{capturer: capturer, maxBodyBytes: maxBodyBytes, now: time.Now}
}

// Capture records one mutation. A 5xx asks the sender to redeliver; a 422
// means the event carries no document and must not be retried.
// POST /v1/mutations
func (h *MutationHandler) Capture(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var m export.Mutation
	if err := c.ShouldBindJSON(&m); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			models.RespondWithError(c, models.NewPayloadTooLargeError(c.Request.URL.Path, err.Error()))
			return
		}
		models.RespondWithError(c, models.NewBadRequestError(c.Request.URL.Path, "invalid mutation: "+err.Error()))
		return
	}

	if m.Context.EventID == "" {
		m.Context.EventID = uuid.New().String()
	}
	if m.Context.Timestamp.IsZero() {
		m.Context.Timestamp = h.now()
	}

	if err := h.capturer.Handle(c.Request.Context(), m); err != nil {
		if capture.IsNoChange(err) {
			models.RespondWithError(c, models.NewUnprocessableError(c.Request.URL.Path, err.Error()))
			return
		}
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "capture failed: "+err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, models.MutationResponse{
		EventID:    m.Context.EventID,
		DocumentID: export.DocumentID(m),
	})
}

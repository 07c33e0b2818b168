package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/models"
	"github.com/janovincze/tributary/internal/state"
)

// StateHandler reports processing state.
type StateHandler struct {
	store    state.Store
	sourceID string
}

// NewStateHandler creates a new StateHandler. sourceID names the live source
// whose checkpoint is reported and may be empty.
func NewStateHandler(store state.Store, sourceID string) *StateHandler {
	return &StateHandler{store: store, sourceID: sourceID}
}

// GetState returns the last processing state and source checkpoint.
// GET /v1/state
func (h *StateHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()

	status, err := h.store.Current(ctx)
	if err != nil {
		_ = c.Error(err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to read processing state"))
		return
	}

	resp := models.StateResponse{Status: status}
	if h.sourceID != "" {
		cp, err := h.store.LoadCheckpoint(ctx, h.sourceID)
		if err != nil {
			_ = c.Error(err)
			models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "failed to read checkpoint"))
			return
		}
		resp.Checkpoint = cp
	}

	if status == nil && resp.Checkpoint == nil {
		models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path, "no processing state recorded"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

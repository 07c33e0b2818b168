package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/models"
)

// APIVersion is the ingress API version.
const APIVersion = "v1"

// VersionHandler serves build information.
type VersionHandler struct {
	version string
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version string) *VersionHandler {
	return &VersionHandler{version: version}
}

// GetVersion returns the build version.
// GET /v1/version
func (h *VersionHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, models.VersionResponse{Version: h.version, APIVersion: APIVersion})
}

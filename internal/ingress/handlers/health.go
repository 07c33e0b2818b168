// Package handlers provides HTTP handlers for ingress endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/health"
	"github.com/janovincze/tributary/internal/ingress/models"
)

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	manager *health.Manager
}

// NewHealthHandler creates a new HealthHandler. A nil manager reports healthy.
func NewHealthHandler(manager *health.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// GetHealth returns the status of every registered component.
// GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    string(health.StatusHealthy),
			Timestamp: time.Now(),
		})
		return
	}

	status := h.manager.GetOverallStatus(c.Request.Context())
	response := models.HealthResponse{
		Status:     string(status.Status),
		Components: make(map[string]models.ComponentHealth, len(status.Components)),
		Timestamp:  status.Timestamp,
	}
	for name, result := range status.Components {
		response.Components[name] = models.ComponentHealth{
			Name:       result.Name,
			Status:     string(result.Status),
			Message:    result.Message,
			DurationMs: result.Duration.Milliseconds(),
			LastCheck:  result.LastCheck,
			Error:      result.Error,
		}
	}

	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// GetLiveness reports that the process is serving.
// GET /health/live
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, models.ProbeResponse{Status: "alive", Timestamp: time.Now()})
}

// GetReadiness reports whether dependencies allow taking traffic.
// GET /health/ready
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	if h.manager == nil || h.manager.IsReady(c.Request.Context()) {
		c.JSON(http.StatusOK, models.ProbeResponse{Status: "ready", Timestamp: time.Now()})
		return
	}
	c.JSON(http.StatusServiceUnavailable, models.ProbeResponse{Status: "not_ready", Timestamp: time.Now()})
}

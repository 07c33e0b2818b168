package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/models"
)

// Recovery turns handler panics into a problem details 500.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				attrs := []any{
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"stack", string(debug.Stack()),
				}
				if requestID := c.GetString(RequestIDKey); requestID != "" {
					attrs = append(attrs, "request_id", requestID)
				}
				logger.Error("panic recovered", attrs...)

				models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, "An unexpected error occurred"))
				c.Abort()
			}
		}()

		c.Next()
	}
}

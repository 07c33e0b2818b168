package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/metrics"
)

// Metrics records request count, latency and body size per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Route templates keep document paths out of the label space.
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "/not_found"
		}
		method := c.Request.Method

		if c.Request.ContentLength > 0 {
			metrics.IngressRequestSize.WithLabelValues(endpoint, method).Observe(float64(c.Request.ContentLength))
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.IngressRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		metrics.IngressRequestDuration.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/prometheus"
)

// Metrics records request counts and latency per route template.
func Metrics(m *prometheus.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.HTTPActiveRequests.WithLabelValues().Inc()
		start := time.Now()
		c.Next()
		m.HTTPActiveRequests.WithLabelValues().Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		prometheus.RecordHTTPRequest(m, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

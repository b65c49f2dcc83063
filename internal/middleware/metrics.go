package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alessia-badea/dissertation-api/internal/service"
)

// Metrics records per-route request counts and latencies. Unmatched routes
// fall back to the raw URL path so 404 traffic still shows up, at the cost
// of label cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/connector-hub/connector-hub/internal/telemetry"
)

// MetricsMiddleware records request counts and latencies per route template.
// Unmatched routes share the "<no-route>" label to bound cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

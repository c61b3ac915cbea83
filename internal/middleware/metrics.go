package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/service"
	"github.com/noah-isme/drive-school-api/pkg/logger"
)

// Metrics records latency, in-flight count and error codes per route. Routes
// listed in skip (probes, the scrape endpoint) are not observed. Requests that
// match no route share one path label.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		if _, ok := skipped[c.FullPath()]; ok {
			c.Next()
			return
		}
		done := metricsSvc.TrackInFlight()
		start := time.Now()
		c.Next()
		done()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		metricsSvc.ObserveAPIError(c.GetString(logger.ErrorCodeKey))
	}
}

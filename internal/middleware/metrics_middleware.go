package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

type MetricsRecorder interface {
	RecordRequest(endpoint, status string, duration time.Duration)
}

func MetricsMiddleware(metrics MetricsRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		endpoint := endpointOf(c)

		c.Next()

		metrics.RecordRequest(endpoint, getStatusLabel(c.Writer.Status()), time.Since(start))
	}
}

func getStatusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 402 {
		return "payment_required"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "unknown"
}

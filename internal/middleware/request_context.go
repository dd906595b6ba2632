package middleware

import (
	"strings"

	"lnwall-gateway/internal/services/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader   = "X-Request-ID"
	TraceparentHeader = "traceparent"
	RequestIDKey      = "request_id"
)

// RequestContext tags every request with an id and a W3C traceparent, echoes
// both back, and joins the caller's trace when one was supplied.
func RequestContext(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		traceparent := EnsureTraceparent(c.GetHeader(TraceparentHeader))

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Header(TraceparentHeader, traceparent)
		c.Request = c.Request.WithContext(tracing.ContextWithTraceparent(c.Request.Context(), traceparent))

		c.Next()

		if len(c.Errors) > 0 {
			logger.Debug("request completed with errors",
				zap.String("request_id", requestID),
				zap.String("trace_id", ExtractTraceID(traceparent)),
				zap.String("errors", c.Errors.String()),
			)
		}
	}
}

// RequestID returns the id assigned by RequestContext, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// ExtractTraceID returns the 32-hex trace id of a traceparent, or "".
func ExtractTraceID(traceparent string) string {
	if !strings.HasPrefix(traceparent, "00-") {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	return parts[1]
}

// GenerateTraceparent returns a fresh sampled traceparent.
func GenerateTraceparent() string {
	traceID := strings.ReplaceAll(uuid.New().String(), "-", "")
	spanID := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return "00-" + traceID + "-" + spanID + "-01"
}

func EnsureTraceparent(traceparent string) string {
	if ExtractTraceID(traceparent) == "" {
		return GenerateTraceparent()
	}
	return traceparent
}
